package mcp

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/bugsplat-mcp/bugsplat-mcp/internal/attachment"
)

const uriScheme = "file://bugsplat-mcp/"

// resourcePrefix 返回当前数据库下附件资源 URI 的公共前缀。
func (s *Server) resourcePrefix() string {
	return uriScheme + s.attachments.Database() + "/"
}

// resourceURI 对文件名做路径转义，与 readResource 的 PathUnescape 互为逆操作。
func (s *Server) resourceURI(crashID int, file string) string {
	return s.resourcePrefix() + strconv.Itoa(crashID) + "/" + url.PathEscape(file)
}

func (s *Server) handleResourceTemplatesList(encoder *lockedEncoder, req *request) error {
	return writeResult(encoder, req.ID, resourceTemplatesListResult{
		ResourceTemplates: []resourceTemplate{{
			URITemplate: s.resourcePrefix() + "{crashId}/{file}",
			Name:        "get-attachment",
			Description: "Attachment file previously downloaded for a BugSplat crash",
		}},
	})
}

// handleResourcesList 只公布磁盘上已有的附件，不会触发下载。
func (s *Server) handleResourcesList(encoder *lockedEncoder, req *request) error {
	populated, err := s.attachments.ListAllPopulated()
	if err != nil {
		return writeError(encoder, req.ID, codeInternalError, "list attachments: "+err.Error())
	}

	ids := make([]int, 0, len(populated))
	for id := range populated {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	resources := make([]resourceDescription, 0)
	for _, id := range ids {
		for _, file := range populated[id] {
			resources = append(resources, resourceDescription{
				URI:      s.resourceURI(id, file),
				Name:     fmt.Sprintf("%d/%s", id, file),
				MimeType: attachment.ContentType(file),
			})
		}
	}
	return writeResult(encoder, req.ID, resourcesListResult{Resources: resources})
}

func (s *Server) handleResourcesRead(encoder *lockedEncoder, req *request) error {
	var params resourcesReadParams
	if len(req.Params) == 0 {
		return writeError(encoder, req.ID, codeInvalidParams, "params required for resources/read")
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return writeError(encoder, req.ID, codeInvalidParams, "invalid resources/read params: "+err.Error())
	}
	if !strings.HasPrefix(params.URI, s.resourcePrefix()) {
		return writeError(encoder, req.ID, codeInvalidParams, "unknown resource: "+params.URI)
	}

	content, err := s.readResource(params.URI)
	if err != nil {
		content = resourceContent{URI: params.URI, Text: "Error: " + err.Error()}
	}
	return writeResult(encoder, req.ID, resourcesReadResult{Contents: []resourceContent{content}})
}

func (s *Server) readResource(uri string) (resourceContent, error) {
	rest := strings.TrimPrefix(uri, s.resourcePrefix())
	rawID, rawFile, _ := strings.Cut(rest, "/")

	crashID, err := strconv.Atoi(rawID)
	if err != nil {
		return resourceContent{}, fmt.Errorf("Invalid crash ID %s", rawID)
	}
	file, err := url.PathUnescape(rawFile)
	if err != nil || file == "" {
		return resourceContent{}, fmt.Errorf("Invalid file name %s", rawFile)
	}

	data, err := s.attachments.ReadFile(crashID, file)
	if err != nil {
		var attErr *attachment.Error
		if errors.As(err, &attErr) {
			return resourceContent{}, errors.New(attErr.Message)
		}
		return resourceContent{}, err
	}

	return resourceContent{
		URI:      uri,
		MimeType: attachment.ContentType(file),
		Blob:     base64.StdEncoding.EncodeToString(data),
	}, nil
}
