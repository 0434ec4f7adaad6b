package bot

import (
	"strconv"
	"strings"

	"drawbot/internal/domain"
)

type commandKind int

const (
	cmdNone commandKind = iota
	cmdHelp
	cmdDraw
	cmdSketch
	cmdUpload
	cmdCredits
	cmdEnlarge
)

type command struct {
	Kind       commandKind
	Prompt     string
	Resolution domain.Resolution
	Style      domain.Style

	// Enlarge only.
	ResultID string
	Index    int
}

var ratioFlags = map[string]domain.Resolution{
	"-1:1":  domain.ResolutionSquare,
	"-16:9": domain.ResolutionWide,
	"-9:16": domain.ResolutionTall,
	"-4:3":  domain.ResolutionLandscape,
	"-3:4":  domain.ResolutionPortrait,
}

var styleFlags = map[string]domain.Style{
	"-flat":       domain.StyleFlat,
	"-oil":        domain.StyleOilPaint,
	"-anime":      domain.StyleAnime,
	"-watercolor": domain.StyleWatercolor,
	"-3d":         domain.Style3DCartoon,
}

// parseCommand recognizes the bot's prefixed commands. Anything else returns
// cmdNone and is left for the state machine or ignored.
func parseCommand(text string) command {
	text = strings.TrimSpace(text)
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return command{}
	}

	switch strings.ToLower(fields[0]) {
	case "help":
		return command{Kind: cmdHelp}
	case "credits":
		return command{Kind: cmdCredits}
	case "draw":
		prompt, res, _ := stripFlags(fields[1:])
		if prompt == "" {
			return command{Kind: cmdHelp}
		}
		return command{Kind: cmdDraw, Prompt: prompt, Resolution: res}
	case "sketch":
		prompt, res, style := stripFlags(fields[1:])
		if prompt == "" {
			return command{Kind: cmdHelp}
		}
		return command{Kind: cmdSketch, Prompt: prompt, Resolution: res, Style: style}
	case "upload":
		prompt, res, _ := stripFlags(fields[1:])
		if prompt == "" {
			return command{Kind: cmdHelp}
		}
		return command{Kind: cmdUpload, Prompt: prompt, Resolution: res}
	case "t":
		if len(fields) != 3 {
			return command{Kind: cmdHelp}
		}
		idx, err := strconv.Atoi(fields[2])
		if err != nil || idx < 1 {
			return command{Kind: cmdHelp}
		}
		return command{Kind: cmdEnlarge, ResultID: fields[1], Index: idx}
	}
	return command{}
}

// stripFlags pulls trailing ratio and style flags off the prompt words.
// Flags anywhere in the tail are honored; the rest joins back into the prompt.
func stripFlags(words []string) (prompt string, res domain.Resolution, style domain.Style) {
	res = domain.ResolutionSquare
	kept := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)
		if r, ok := ratioFlags[lower]; ok {
			res = r
			continue
		}
		if s, ok := styleFlags[lower]; ok {
			style = s
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " "), res, style
}
