package bot

import (
	"fmt"

	"golang.org/x/text/language"
)

type msgKey string

const (
	msgHelp           msgKey = "help"
	msgLoginNeeded    msgKey = "login_needed"
	msgPromptPhone    msgKey = "prompt_phone"
	msgBadPhone       msgKey = "bad_phone"
	msgPromptCode     msgKey = "prompt_code"
	msgBadCode        msgKey = "bad_code"
	msgSMSFailed      msgKey = "sms_failed"
	msgLoginFailed    msgKey = "login_failed"
	msgLoginOK        msgKey = "login_ok"
	msgAccepted       msgKey = "accepted"
	msgBusyUser       msgKey = "busy_user"
	msgServiceBusy    msgKey = "service_busy"
	msgRejected       msgKey = "rejected"
	msgTimeout        msgKey = "timeout"
	msgGenericFailed  msgKey = "generic_failed"
	msgDone           msgKey = "done"
	msgCredits        msgKey = "credits"
	msgCreditsFailed  msgKey = "credits_failed"
	msgSketchPrompt   msgKey = "sketch_prompt"
	msgUploadPrompt   msgKey = "upload_prompt"
	msgResultMissing  msgKey = "result_missing"
	msgBadIndex       msgKey = "bad_index"
	msgEnlargeDone    msgKey = "enlarge_done"
	msgImageBadInput  msgKey = "image_bad_input"
	msgNothingPending msgKey = "nothing_pending"
)

var catalog = map[string]map[msgKey]string{
	"zh": {
		msgHelp: "可用命令：\n" +
			"draw <描述> [-1:1|-16:9|-9:16|-4:3|-3:4] 文生图\n" +
			"sketch <描述> [-比例] [-flat|-oil|-anime|-watercolor|-3d] 涂鸦作画\n" +
			"upload <描述> 以图作画\n" +
			"credits 查询剩余额度\n" +
			"t <编号> <序号> 放大指定结果",
		msgLoginNeeded:    "登录已失效，请先登录。",
		msgPromptPhone:    "请输入 11 位手机号。",
		msgBadPhone:       "手机号格式不对，请输入 11 位数字。",
		msgPromptCode:     "验证码已发送，请输入 6 位验证码。",
		msgBadCode:        "验证码格式不对，请输入 6 位数字。",
		msgSMSFailed:      "验证码发送失败，请稍后重试。",
		msgLoginFailed:    "登录失败，请重新发起登录。",
		msgLoginOK:        "登录成功。",
		msgAccepted:       "任务已提交，生成中，请稍候…",
		msgBusyUser:       "你有一个任务正在进行，完成后再试。",
		msgServiceBusy:    "服务繁忙，请稍后重试。",
		msgRejected:       "请求被拒绝，请调整内容后重试。",
		msgTimeout:        "生成超时，任务已放弃，请重试。",
		msgGenericFailed:  "生成失败，请稍后重试。",
		msgDone:           "生成完成，编号 %s。发送 t %s <序号> 可放大单张。",
		msgCredits:        "剩余额度：%d / %d。",
		msgCreditsFailed:  "额度查询失败，请稍后重试。",
		msgSketchPrompt:   "请在白色画布上涂鸦后发回图片。",
		msgUploadPrompt:   "请发送一张底图。",
		msgResultMissing:  "没有找到这个编号的结果，可能已过期。",
		msgBadIndex:       "序号超出范围。",
		msgEnlargeDone:    "放大完成，新编号 %s。",
		msgImageBadInput:  "图片处理失败，请换一张再试。",
		msgNothingPending: "当前没有等待图片的任务，请先发送命令。",
	},
	"en": {
		msgHelp: "Commands:\n" +
			"draw <prompt> [-1:1|-16:9|-9:16|-4:3|-3:4] text to image\n" +
			"sketch <prompt> [-ratio] [-flat|-oil|-anime|-watercolor|-3d] sketch to image\n" +
			"upload <prompt> image to image\n" +
			"credits show remaining credits\n" +
			"t <id> <index> enlarge one result",
		msgLoginNeeded:    "Session expired, please log in first.",
		msgPromptPhone:    "Please enter your 11-digit phone number.",
		msgBadPhone:       "That does not look like a phone number, enter 11 digits.",
		msgPromptCode:     "Code sent, please enter the 6-digit code.",
		msgBadCode:        "That does not look like a code, enter 6 digits.",
		msgSMSFailed:      "Could not send the code, please try again later.",
		msgLoginFailed:    "Login failed, please start over.",
		msgLoginOK:        "Logged in.",
		msgAccepted:       "Task submitted, generating, hold on...",
		msgBusyUser:       "You already have a task running, try again when it finishes.",
		msgServiceBusy:    "Service is busy, please try again later.",
		msgRejected:       "Request was rejected, adjust the prompt and retry.",
		msgTimeout:        "Generation timed out, the task was abandoned, please retry.",
		msgGenericFailed:  "Generation failed, please try again later.",
		msgDone:           "Done, result id %s. Send t %s <index> to enlarge one image.",
		msgCredits:        "Credits remaining: %d / %d.",
		msgCreditsFailed:  "Could not fetch credits, please try again later.",
		msgSketchPrompt:   "Doodle on the white canvas and send the image back.",
		msgUploadPrompt:   "Please send a base image.",
		msgResultMissing:  "No result with that id, it may have expired.",
		msgBadIndex:       "Index out of range.",
		msgEnlargeDone:    "Enlarged, new result id %s.",
		msgImageBadInput:  "Could not process that image, try another one.",
		msgNothingPending: "Nothing is waiting for an image, send a command first.",
	},
}

var localeMatcher = language.NewMatcher([]language.Tag{
	language.Chinese,
	language.English,
})

// matchLocale maps an arbitrary locale string onto a catalog key.
func matchLocale(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return "zh"
	}
	_, idx, _ := localeMatcher.Match(tag)
	if idx == 1 {
		return "en"
	}
	return "zh"
}

func message(locale string, key msgKey, args ...any) string {
	lang := matchLocale(locale)
	text, ok := catalog[lang][key]
	if !ok {
		text = catalog["zh"][key]
	}
	if len(args) == 0 {
		return text
	}
	return fmt.Sprintf(text, args...)
}
