package imagine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"drawbot/internal/domain"
)

type scriptedResponse struct {
	status int
	body   string
}

type captureTransport struct {
	requests  []*http.Request
	bodies    [][]byte
	responses []scriptedResponse
}

func (c *captureTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
	}
	c.requests = append(c.requests, r)
	c.bodies = append(c.bodies, body)

	idx := len(c.requests) - 1
	if idx >= len(c.responses) {
		return nil, errors.New("unexpected request")
	}
	resp := c.responses[idx]
	return &http.Response{
		StatusCode: resp.status,
		Body:       io.NopCloser(strings.NewReader(resp.body)),
	}, nil
}

func newTestClient(t *testing.T, transport *captureTransport) *Client {
	t.Helper()
	c, err := NewClient(Options{
		BaseURL:    "https://imagine.example.com/api",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c
}

func testCred() domain.Credential {
	return domain.Credential{
		SessionCookie: "sso_ticket=x; XSRF-TOKEN=anti",
		AccessToken:   "access-1",
	}
}

func TestSubmitTaskCarriesCredentialAndSpec(t *testing.T) {
	transport := &captureTransport{responses: []scriptedResponse{
		{status: 200, body: `{"success":true,"data":"task-7"}`},
	}}
	c := newTestClient(t, transport)

	taskID, err := c.SubmitTask(context.Background(), testCred(), domain.TaskSpec{
		Type:       domain.TaskSketchToImage,
		Prompt:     "a castle",
		Resolution: domain.ResolutionTall,
		BaseImage:  "https://oss.example.com/base.png",
		Style:      domain.StyleAnime,
	})
	if err != nil {
		t.Fatalf("SubmitTask error: %v", err)
	}
	if taskID != "task-7" {
		t.Fatalf("taskID = %q", taskID)
	}

	req := transport.requests[0]
	if req.URL.Path != "/api/tasks" {
		t.Fatalf("path = %s", req.URL.Path)
	}
	if got := req.Header.Get("X-XSRF-Token"); got != "anti" {
		t.Fatalf("xsrf header = %q", got)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer access-1" {
		t.Fatalf("authorization = %q", got)
	}

	var payload submitRequest
	if err := json.Unmarshal(transport.bodies[0], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.TaskType != "sketch_to_image" {
		t.Fatalf("taskType = %q", payload.TaskType)
	}
	if payload.TaskInput.Resolution != "720*1280" {
		t.Fatalf("resolution = %q", payload.TaskInput.Resolution)
	}
	if payload.TaskInput.Style != string(domain.StyleAnime) || payload.TaskInput.StyleName == "" {
		t.Fatalf("style = %+v", payload.TaskInput)
	}
}

func TestSubmitTaskBusyMarker(t *testing.T) {
	transport := &captureTransport{responses: []scriptedResponse{
		{status: 200, body: `{"success":false,"errorMsg":"Server busy, please wait"}`},
	}}
	c := newTestClient(t, transport)

	_, err := c.SubmitTask(context.Background(), testCred(), domain.TaskSpec{Type: domain.TaskTextToImage, Prompt: "x", Resolution: domain.ResolutionSquare})
	if !errors.Is(err, domain.ErrServiceBusy) {
		t.Fatalf("SubmitTask error = %v, want ErrServiceBusy", err)
	}
}

func TestSubmitTaskRejection(t *testing.T) {
	transport := &captureTransport{responses: []scriptedResponse{
		{status: 200, body: `{"success":false,"errorMsg":"content policy violation"}`},
	}}
	c := newTestClient(t, transport)

	_, err := c.SubmitTask(context.Background(), testCred(), domain.TaskSpec{Type: domain.TaskTextToImage, Prompt: "x", Resolution: domain.ResolutionSquare})
	if !errors.Is(err, domain.ErrServiceRejected) {
		t.Fatalf("SubmitTask error = %v, want ErrServiceRejected", err)
	}
}

func TestSubmitTaskUnauthorizedStatus(t *testing.T) {
	transport := &captureTransport{responses: []scriptedResponse{
		{status: 403, body: ``},
	}}
	c := newTestClient(t, transport)

	_, err := c.SubmitTask(context.Background(), testCred(), domain.TaskSpec{Type: domain.TaskTextToImage, Prompt: "x", Resolution: domain.ResolutionSquare})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("SubmitTask error = %v, want ErrUnauthorized", err)
	}
}

func TestTaskStatusParsesObservation(t *testing.T) {
	transport := &captureTransport{responses: []scriptedResponse{
		{status: 200, body: `{"success":true,"data":{"taskRate":100,"status":2,"taskResult":[
			{"downloadUrl":"https://cdn.example.com/a.png?sig=1"},
			{"downloadUrl":""},
			{"downloadUrl":"https://cdn.example.com/b.png"}
		]}}`},
	}}
	c := newTestClient(t, transport)

	status, err := c.TaskStatus(context.Background(), testCred(), "task-7")
	if err != nil {
		t.Fatalf("TaskStatus error: %v", err)
	}
	if status.Progress != 100 || status.State != domain.TaskStateComplete {
		t.Fatalf("status = %+v", status)
	}
	// Entries without a download URL are dropped.
	if len(status.Items) != 2 {
		t.Fatalf("items = %+v", status.Items)
	}
	if status.Items[0].CleanURL() != "https://cdn.example.com/a.png" {
		t.Fatalf("clean url = %q", status.Items[0].CleanURL())
	}
	if status.Items[0].DownloadURL != "https://cdn.example.com/a.png?sig=1" {
		t.Fatalf("raw url = %q", status.Items[0].DownloadURL)
	}
}

func TestTaskStatusMalformedBody(t *testing.T) {
	transport := &captureTransport{responses: []scriptedResponse{
		{status: 200, body: `<html>gateway error</html>`},
	}}
	c := newTestClient(t, transport)
	if _, err := c.TaskStatus(context.Background(), testCred(), "task-7"); err == nil {
		t.Fatal("TaskStatus succeeded on malformed body")
	}
}

func TestCreditBalance(t *testing.T) {
	transport := &captureTransport{responses: []scriptedResponse{
		{status: 200, body: `{"success":true,"data":{"totalCount":100,"availableCount":42}}`},
	}}
	c := newTestClient(t, transport)

	total, available, err := c.CreditBalance(context.Background(), testCred())
	if err != nil {
		t.Fatalf("CreditBalance error: %v", err)
	}
	if total != 100 || available != 42 {
		t.Fatalf("balance = %d/%d", available, total)
	}
}

func TestUploadImageFlow(t *testing.T) {
	transport := &captureTransport{responses: []scriptedResponse{
		{status: 200, body: `{"success":true,"data":{"host":"https://oss.example.com","key":"uploads/u1.png","policy":"cG9saWN5","accessId":"AKID","signature":"c2ln"}}`},
		{status: 204, body: ``},
		{status: 200, body: `{"success":true,"data":"https://oss.example.com/uploads/u1.png"}`},
	}}
	c := newTestClient(t, transport)

	url, err := c.UploadImage(context.Background(), testCred(), "u1.png", []byte("imgdata"), domain.TaskSketchToImage)
	if err != nil {
		t.Fatalf("UploadImage error: %v", err)
	}
	if url != "https://oss.example.com/uploads/u1.png" {
		t.Fatalf("url = %q", url)
	}
	if len(transport.requests) != 3 {
		t.Fatalf("requests = %d, want 3", len(transport.requests))
	}

	// The middle request is the signed multipart upload to the policy host.
	upload := transport.requests[1]
	if upload.URL.String() != "https://oss.example.com" {
		t.Fatalf("upload host = %s", upload.URL)
	}
	mediaType, params, err := mime.ParseMediaType(upload.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("upload content type = %q (%v)", upload.Header.Get("Content-Type"), err)
	}
	reader := multipart.NewReader(strings.NewReader(string(transport.bodies[1])), params["boundary"])
	form, err := reader.ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("parse multipart: %v", err)
	}
	for _, field := range []string{"key", "policy", "OSSAccessKeyId", "signature"} {
		if len(form.Value[field]) != 1 {
			t.Fatalf("multipart missing field %q", field)
		}
	}
	if len(form.File["file"]) != 1 {
		t.Fatal("multipart missing file part")
	}
}

func TestUploadImagePolicyRejected(t *testing.T) {
	transport := &captureTransport{responses: []scriptedResponse{
		{status: 200, body: `{"success":false,"errorMsg":"quota exceeded"}`},
	}}
	c := newTestClient(t, transport)
	if _, err := c.UploadImage(context.Background(), testCred(), "u1.png", []byte("x"), domain.TaskSketchToImage); err == nil {
		t.Fatal("UploadImage succeeded on policy rejection")
	}
	if len(transport.requests) != 1 {
		t.Fatalf("requests = %d, upload should stop after policy failure", len(transport.requests))
	}
}

func TestClassifyServiceError(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"Server busy", domain.ErrServiceBusy},
		{"Rate limit exceeded", domain.ErrServiceBusy},
		{"Please try again later", domain.ErrServiceBusy},
		{"content policy violation", domain.ErrServiceRejected},
		{"", domain.ErrServiceRejected},
	}
	for _, tc := range cases {
		if err := classifyServiceError(tc.msg); !errors.Is(err, tc.want) {
			t.Errorf("classifyServiceError(%q) = %v, want %v", tc.msg, err, tc.want)
		}
	}
}
