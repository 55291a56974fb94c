package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/attachment"
)

const initLine = `{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test"}}}`

func TestInitializeAndToolsList(t *testing.T) {
	fake := newFakeAttachments()
	responses := runServer(t, fake,
		initLine,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	)

	if len(responses) != 3 {
		t.Fatalf("notification must not get a response, got %d responses", len(responses))
	}

	var init initializeResult
	decodeResult(t, responses["0"], &init)
	if init.ServerInfo.Name != "bugsplat-mcp" || init.ProtocolVersion != protocolVersion {
		t.Fatalf("unexpected initialize result %+v", init)
	}
	if init.Capabilities.Tools == nil || init.Capabilities.Resources == nil {
		t.Fatalf("tools and resources capabilities should be advertised")
	}

	var list toolsListResult
	decodeResult(t, responses["1"], &list)
	if len(list.Tools) != 1 || list.Tools[0].Name != "get-attachments-list" {
		t.Fatalf("unexpected tools %+v", list.Tools)
	}
	if responses["2"].Error != nil {
		t.Fatalf("ping failed: %+v", responses["2"].Error)
	}
}

func TestRequestsBeforeInitializeAreRejected(t *testing.T) {
	responses := runServer(t, newFakeAttachments(),
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
	)
	if responses["1"].Error == nil || responses["1"].Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request error, got %+v", responses["1"])
	}
}

func TestProtocolErrors(t *testing.T) {
	responses := runServer(t, newFakeAttachments(),
		`{not json`,
		`{"jsonrpc":"1.0","id":1,"method":"ping"}`,
		initLine,
		`{"jsonrpc":"2.0","id":2,"method":"nope"}`,
	)
	if responses["null"].Error == nil || responses["null"].Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", responses["null"])
	}
	if responses["1"].Error == nil || responses["1"].Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", responses["1"])
	}
	if responses["2"].Error == nil || responses["2"].Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", responses["2"])
	}
}

func TestGetAttachmentsListTool(t *testing.T) {
	fake := newFakeAttachments()
	fake.remote[42] = map[string]string{"log.txt": "hello", "screenshot.png": "png"}

	responses := runServer(t, fake,
		initLine,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get-attachments-list","arguments":{"id":42}}}`,
	)

	var result toolsCallResult
	decodeResult(t, responses["1"], &result)
	if result.IsError {
		t.Fatalf("unexpected error result %+v", result)
	}
	want := "Attachments for crash #42 in database fred\n- log.txt\n- screenshot.png"
	if diff := cmp.Diff(want, result.Content[0].Text); diff != "" {
		t.Fatalf("text mismatch (-want +got):\n%s", diff)
	}
}

func TestGetAttachmentsListToolErrors(t *testing.T) {
	fake := newFakeAttachments()
	fake.populateErr = &attachment.Error{Kind: attachment.KindSizeLimitExceeded, CrashID: 9, Message: "Attachments zip file is too large to download"}

	responses := runServer(t, fake,
		initLine,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get-attachments-list","arguments":{"id":9}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get-attachments-list","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get-attachments-list","arguments":{"id":1.5}}}`,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"get-issue","arguments":{"id":1}}}`,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"get-attachments-list","arguments":{"id":0}}}`,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"get-attachments-list","arguments":{"id":-3}}}`,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"get-attachments-list","arguments":{"id":"abc"}}}`,
	)

	var result toolsCallResult
	decodeResult(t, responses["1"], &result)
	if !result.IsError || result.Content[0].Text != "Error: Attachments zip file is too large to download" {
		t.Fatalf("unexpected result %+v", result)
	}
	for _, id := range []string{"2", "3", "4", "5", "6", "7"} {
		if responses[id].Error == nil || responses[id].Error.Code != codeInvalidParams {
			t.Fatalf("request %s: expected invalid params, got %+v", id, responses[id])
		}
	}
}

func TestGetAttachmentsListAcceptsWholeFloatID(t *testing.T) {
	fake := newFakeAttachments()
	fake.remote[42] = map[string]string{"log.txt": "hello"}

	responses := runServer(t, fake,
		initLine,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get-attachments-list","arguments":{"id":42.0}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get-attachments-list","arguments":{"id":4.2e1}}}`,
	)
	for _, id := range []string{"1", "2"} {
		var result toolsCallResult
		decodeResult(t, responses[id], &result)
		if result.IsError || !strings.HasPrefix(result.Content[0].Text, "Attachments for crash #42 ") {
			t.Fatalf("request %s: unexpected result %+v", id, result)
		}
	}
}

func TestCrashIDFromNumber(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"42", 42, true},
		{"42.0", 42, true},
		{"1e3", 1000, true},
		{"1.5", 0, false},
		{"0", 0, false},
		{"-7", 0, false},
		{"9007199254740993", 0, false},
	}
	for _, tc := range cases {
		got, err := crashIDFromNumber(json.Number(tc.in))
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("%s: expected %d, got %d (%v)", tc.in, tc.want, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error, got %d", tc.in, got)
		}
	}
}

func TestResourcesListAndTemplates(t *testing.T) {
	fake := newFakeAttachments()
	fake.disk[7] = map[string]string{"b.txt": "b"}
	fake.disk[3] = map[string]string{"a.png": "a"}

	responses := runServer(t, fake,
		initLine,
		`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/templates/list"}`,
	)

	var list resourcesListResult
	decodeResult(t, responses["1"], &list)
	want := []resourceDescription{
		{URI: "file://bugsplat-mcp/fred/3/a.png", Name: "3/a.png", MimeType: "image/png"},
		{URI: "file://bugsplat-mcp/fred/7/b.txt", Name: "7/b.txt", MimeType: attachment.ContentType("b.txt")},
	}
	if diff := cmp.Diff(want, list.Resources); diff != "" {
		t.Fatalf("resources mismatch (-want +got):\n%s", diff)
	}
	if fake.populateCalls != 0 {
		t.Fatalf("listing resources must not populate")
	}

	var templates resourceTemplatesListResult
	decodeResult(t, responses["2"], &templates)
	if len(templates.ResourceTemplates) != 1 ||
		templates.ResourceTemplates[0].URITemplate != "file://bugsplat-mcp/fred/{crashId}/{file}" {
		t.Fatalf("unexpected templates %+v", templates)
	}
}

func TestResourcesRead(t *testing.T) {
	fake := newFakeAttachments()
	fake.disk[42] = map[string]string{"screenshot.png": "\x89PNG", "my log.txt": "spaced"}

	responses := runServer(t, fake,
		initLine,
		`{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"file://bugsplat-mcp/fred/42/screenshot.png"}}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"file://bugsplat-mcp/fred/abc/screenshot.png"}}`,
		`{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"file://bugsplat-mcp/fred/42/missing.txt"}}`,
		`{"jsonrpc":"2.0","id":4,"method":"resources/read","params":{"uri":"file://bugsplat-mcp/other/42/screenshot.png"}}`,
		`{"jsonrpc":"2.0","id":5,"method":"resources/read","params":{"uri":"file://bugsplat-mcp/fred/42/my%20log.txt"}}`,
	)

	var ok resourcesReadResult
	decodeResult(t, responses["1"], &ok)
	content := ok.Contents[0]
	if content.MimeType != "image/png" || content.URI != "file://bugsplat-mcp/fred/42/screenshot.png" {
		t.Fatalf("unexpected content %+v", content)
	}
	if data, _ := base64.StdEncoding.DecodeString(content.Blob); string(data) != "\x89PNG" {
		t.Fatalf("blob mismatch: %q", data)
	}

	var badID resourcesReadResult
	decodeResult(t, responses["2"], &badID)
	if badID.Contents[0].Text != "Error: Invalid crash ID abc" {
		t.Fatalf("unexpected text %q", badID.Contents[0].Text)
	}

	var missing resourcesReadResult
	decodeResult(t, responses["3"], &missing)
	if missing.Contents[0].Text != "Error: File not found" || missing.Contents[0].Blob != "" {
		t.Fatalf("unexpected content %+v", missing.Contents[0])
	}

	if responses["4"].Error == nil || responses["4"].Error.Code != codeInvalidParams {
		t.Fatalf("foreign database should be rejected, got %+v", responses["4"])
	}

	var spaced resourcesReadResult
	decodeResult(t, responses["5"], &spaced)
	if data, _ := base64.StdEncoding.DecodeString(spaced.Contents[0].Blob); string(data) != "spaced" {
		t.Fatalf("escaped file name should be decoded, got %+v", spaced.Contents[0])
	}
	if fake.populateCalls != 0 {
		t.Fatalf("reading resources must not populate")
	}
}

func TestListedResourceURIsCanBeRead(t *testing.T) {
	fake := newFakeAttachments()
	fake.disk[42] = map[string]string{
		"100%.log":       "percent",
		"my log.txt":     "spaced",
		"a#b?.txt":       "reserved",
		"screenshot.png": "\x89PNG",
	}

	listed := runServer(t, fake, initLine, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	var list resourcesListResult
	decodeResult(t, listed["1"], &list)
	if len(list.Resources) != len(fake.disk[42]) {
		t.Fatalf("expected %d resources, got %+v", len(fake.disk[42]), list.Resources)
	}

	uris := make(map[string]bool, len(list.Resources))
	for _, res := range list.Resources {
		uris[res.URI] = true
	}
	for _, want := range []string{
		"file://bugsplat-mcp/fred/42/100%25.log",
		"file://bugsplat-mcp/fred/42/my%20log.txt",
		"file://bugsplat-mcp/fred/42/a%23b%3F.txt",
	} {
		if !uris[want] {
			t.Fatalf("expected escaped uri %s in %v", want, uris)
		}
	}

	lines := []string{initLine}
	for i, res := range list.Resources {
		params, err := json.Marshal(map[string]string{"uri": res.URI})
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		lines = append(lines, `{"jsonrpc":"2.0","id":`+strconv.Itoa(i+1)+`,"method":"resources/read","params":`+string(params)+`}`)
	}
	read := runServer(t, fake, lines...)

	for i, res := range list.Resources {
		var result resourcesReadResult
		decodeResult(t, read[strconv.Itoa(i+1)], &result)
		content := result.Contents[0]
		if content.Text != "" {
			t.Fatalf("%s: read failed with %q", res.URI, content.Text)
		}
		file := strings.TrimPrefix(res.Name, "42/")
		data, _ := base64.StdEncoding.DecodeString(content.Blob)
		if string(data) != fake.disk[42][file] {
			t.Fatalf("%s: expected %q, got %q", res.URI, fake.disk[42][file], data)
		}
		if content.URI != res.URI {
			t.Fatalf("read should echo the listed uri, got %s want %s", content.URI, res.URI)
		}
	}
}

func TestConcurrentRequestsAllAnswered(t *testing.T) {
	fake := newFakeAttachments()
	for i := 1; i <= 20; i++ {
		fake.remote[i] = map[string]string{"log.txt": "x"}
	}

	lines := []string{initLine}
	for i := 1; i <= 20; i++ {
		lines = append(lines, `{"jsonrpc":"2.0","id":`+strconv.Itoa(i)+`,"method":"tools/call","params":{"name":"get-attachments-list","arguments":{"id":`+strconv.Itoa(i)+`}}}`)
	}
	responses := runServer(t, fake, lines...)

	for i := 1; i <= 20; i++ {
		var result toolsCallResult
		decodeResult(t, responses[strconv.Itoa(i)], &result)
		if !strings.HasPrefix(result.Content[0].Text, "Attachments for crash #"+strconv.Itoa(i)+" ") {
			t.Fatalf("request %d got %q", i, result.Content[0].Text)
		}
	}
}

// runServer 将 lines 作为 stdin 输入运行服务端，并按 id 收集响应。
func runServer(t *testing.T, attachments Attachments, lines ...string) map[string]response {
	t.Helper()
	return runServerWith(t, attachments, nil, lines...)
}

func runServerWith(t *testing.T, attachments Attachments, opts []Option, lines ...string) map[string]response {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	srv, err := NewServer(attachments, logger, opts...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	var out bytes.Buffer
	input := strings.NewReader(strings.Join(lines, "\n") + "\n")
	if err := srv.Run(context.Background(), input, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	responses := make(map[string]response)
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	for scanner.Scan() {
		var resp struct {
			response
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", scanner.Text(), err)
		}
		resp.response.Result = resp.Result
		responses[string(resp.ID)] = resp.response
	}
	return responses
}

func decodeResult(t *testing.T, resp response, out any) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	raw, ok := resp.Result.(json.RawMessage)
	if !ok {
		t.Fatalf("missing result in %+v", resp)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

// fakeAttachments 用内存 map 模拟附件缓存：remote 为可下载的归档，disk 为已落盘的 bundle。
type fakeAttachments struct {
	mu            sync.Mutex
	remote        map[int]map[string]string
	disk          map[int]map[string]string
	populateErr   error
	populateCalls int
}

func newFakeAttachments() *fakeAttachments {
	return &fakeAttachments{
		remote: make(map[int]map[string]string),
		disk:   make(map[int]map[string]string),
	}
}

func (f *fakeAttachments) Database() string { return "fred" }

func (f *fakeAttachments) EnsurePopulated(_ context.Context, crashID int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.populateCalls++
	if f.populateErr != nil {
		return nil, f.populateErr
	}
	if _, ok := f.disk[crashID]; !ok {
		files, ok := f.remote[crashID]
		if !ok {
			return nil, &attachment.Error{Kind: attachment.KindRemoteFetch, CrashID: crashID, Message: "crash not found"}
		}
		f.disk[crashID] = files
	}
	return sortedKeys(f.disk[crashID]), nil
}

func (f *fakeAttachments) ReadFile(crashID int, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if content, ok := f.disk[crashID][name]; ok {
		return []byte(content), nil
	}
	return nil, &attachment.Error{Kind: attachment.KindNotFound, CrashID: crashID, Message: "File not found", Cause: errors.New("attachment not found")}
}

func (f *fakeAttachments) ListAllPopulated() (map[int][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int][]string, len(f.disk))
	for id, files := range f.disk {
		out[id] = sortedKeys(files)
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
