// Package drivetest provides an in-memory fake of the Drive v3 files API
// for tests. It understands the subset of requests internal/gdrive issues:
// multipart uploads, metadata gets, alt=media downloads, paginated listing
// with simple query clauses, deletes and about.
package drivetest

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/drive/v3"
)

// Op names a class of API request for error injection and call counting.
type Op string

// Request classes.
const (
	OpCreate   Op = "create"
	OpGet      Op = "get"
	OpDownload Op = "download"
	OpList     Op = "list"
	OpDelete   Op = "delete"
	OpAbout    Op = "about"
)

const (
	folderMimeType  = "application/vnd.google-apps.folder"
	rootID          = "root"
	defaultPageSize = 100
)

// Epoch is the creation time of the first file added to a Server. Each
// created file advances the clock by one minute.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Server is a fake Drive API. Safe for concurrent use.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	files   map[string]*drive.File
	content map[string][]byte
	nextID  int
	clock   time.Time
	fail    map[Op]int
	calls   map[Op]int
}

// NewServer starts a fake Drive API that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		files:   make(map[string]*drive.File),
		content: make(map[string][]byte),
		clock:   Epoch,
		fail:    make(map[Op]int),
		calls:   make(map[Op]int),
	}

	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.Close)

	return s
}

// Endpoint is the API base URL to pass to gdrive.NewClient.
func (s *Server) Endpoint() string {
	return s.URL + "/drive/v3/"
}

// Fail makes every request of class op answer with status until cleared
// with Fail(op, 0).
func (s *Server) Fail(op Op, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if status == 0 {
		delete(s.fail, op)
		return
	}

	s.fail[op] = status
}

// Calls returns how many requests of class op were received.
func (s *Server) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[op]
}

// AddFolder creates a folder and returns its id.
func (s *Server) AddFolder(name, parentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insert(&drive.File{Name: name, MimeType: folderMimeType, Parents: []string{parentOrRoot(parentID)}}, nil)
}

// AddFile creates a file with content and returns its id.
func (s *Server) AddFile(name, parentID string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insert(&drive.File{Name: name, Parents: []string{parentOrRoot(parentID)}}, content)
}

// AddRaw stores f exactly as given, for malformed-item tests. f.Id must be
// set unless the test wants an item without one.
func (s *Server) AddRaw(f *drive.File) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.Id == "" {
		s.nextID++
		key := fmt.Sprintf("raw-%d", s.nextID)
		s.files[key] = f

		return
	}

	s.files[f.Id] = f
}

// Content returns the stored content of id.
func (s *Server) Content(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.content[id]

	return b, ok
}

// File returns a copy of the stored metadata of id.
func (s *Server) File(id string) (*drive.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return nil, false
	}

	cp := *f

	return &cp, true
}

// Count returns the number of stored items, folders included.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.files)
}

// insert assigns id and timestamps. Caller holds mu.
func (s *Server) insert(f *drive.File, content []byte) string {
	s.nextID++
	f.Id = fmt.Sprintf("file-%03d", s.nextID)

	ts := s.clock.Format(time.RFC3339Nano)
	s.clock = s.clock.Add(time.Minute)

	f.CreatedTime = ts
	f.ModifiedTime = ts

	if len(f.Parents) == 0 {
		f.Parents = []string{rootID}
	}

	if f.MimeType == "" {
		f.MimeType = "application/octet-stream"
	}

	if f.MimeType != folderMimeType {
		f.Size = int64(len(content))
		s.content[f.Id] = content
	}

	s.files[f.Id] = f

	return f.Id
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/drive/v3/about" && r.Method == http.MethodGet:
		s.handle(w, OpAbout, func() (int, any) { return s.about() })
	case path == "/upload/drive/v3/files" && r.Method == http.MethodPost:
		s.handle(w, OpCreate, func() (int, any) { return s.createMultipart(r) })
	case path == "/drive/v3/files" && r.Method == http.MethodPost:
		s.handle(w, OpCreate, func() (int, any) { return s.createMetadata(r) })
	case path == "/drive/v3/files" && r.Method == http.MethodGet:
		s.handle(w, OpList, func() (int, any) { return s.list(r) })
	case strings.HasPrefix(path, "/drive/v3/files/"):
		id := strings.TrimPrefix(path, "/drive/v3/files/")

		switch {
		case r.Method == http.MethodGet && r.URL.Query().Get("alt") == "media":
			s.download(w, id)
		case r.Method == http.MethodGet:
			s.handle(w, OpGet, func() (int, any) { return s.get(id) })
		case r.Method == http.MethodDelete:
			s.handle(w, OpDelete, func() (int, any) { return s.delete(id) })
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	default:
		writeError(w, http.StatusNotFound, "unknown path "+path)
	}
}

// handle counts the call, applies injected failures and writes fn's result.
func (s *Server) handle(w http.ResponseWriter, op Op, fn func() (int, any)) {
	s.mu.Lock()
	s.calls[op]++
	status := s.fail[op]
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, fmt.Sprintf("injected %s failure", op))
		return
	}

	code, body := fn()
	if msg, ok := body.(string); ok && code >= http.StatusBadRequest {
		writeError(w, code, msg)
		return
	}

	if body == nil {
		w.WriteHeader(code)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) createMultipart(r *http.Request) (int, any) {
	if got := r.URL.Query().Get("uploadType"); got != "multipart" {
		return http.StatusBadRequest, "expected uploadType=multipart, got " + got
	}

	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return http.StatusBadRequest, "expected multipart body"
	}

	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		return http.StatusBadRequest, "missing metadata part"
	}

	var meta drive.File
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		return http.StatusBadRequest, "invalid metadata: " + err.Error()
	}

	mediaPart, err := mr.NextPart()
	if err != nil {
		return http.StatusBadRequest, "missing media part"
	}

	content, err := io.ReadAll(mediaPart)
	if err != nil {
		return http.StatusBadRequest, "reading media: " + err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.insert(&drive.File{
		Name:        meta.Name,
		Description: meta.Description,
		Parents:     meta.Parents,
		MimeType:    meta.MimeType,
	}, content)

	cp := *s.files[id]

	return http.StatusOK, &cp
}

func (s *Server) createMetadata(r *http.Request) (int, any) {
	var meta drive.File
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		return http.StatusBadRequest, "invalid metadata: " + err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.insert(&drive.File{
		Name:        meta.Name,
		Description: meta.Description,
		Parents:     meta.Parents,
		MimeType:    meta.MimeType,
	}, nil)

	cp := *s.files[id]

	return http.StatusOK, &cp
}

func (s *Server) get(id string) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return http.StatusNotFound, "File not found: " + id
	}

	cp := *f

	return http.StatusOK, &cp
}

func (s *Server) download(w http.ResponseWriter, id string) {
	s.mu.Lock()
	s.calls[OpDownload]++
	status := s.fail[OpDownload]
	content, ok := s.content[id]
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, "injected download failure")
		return
	}

	if !ok {
		writeError(w, http.StatusNotFound, "File not found: "+id)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	_, _ = w.Write(content)
}

func (s *Server) delete(id string) (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return http.StatusNotFound, "File not found: " + id
	}

	delete(s.files, id)
	delete(s.content, id)

	return http.StatusNoContent, nil
}

func (s *Server) about() (int, any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var usage int64
	for _, b := range s.content {
		usage += int64(len(b))
	}

	return http.StatusOK, &drive.About{
		StorageQuota: &drive.AboutStorageQuota{
			Limit:        15 << 30,
			Usage:        usage,
			UsageInDrive: usage,
		},
		User: &drive.User{EmailAddress: "backup@example.com"},
	}
}

func (s *Server) list(r *http.Request) (int, any) {
	params := r.URL.Query()

	match, err := parseQuery(params.Get("q"))
	if err != nil {
		return http.StatusBadRequest, err.Error()
	}

	pageSize := defaultPageSize
	if raw := params.Get("pageSize"); raw != "" {
		if pageSize, err = strconv.Atoi(raw); err != nil || pageSize <= 0 {
			return http.StatusBadRequest, "invalid pageSize " + raw
		}
	}

	offset := 0
	if raw := params.Get("pageToken"); raw != "" {
		if offset, err = strconv.Atoi(raw); err != nil || offset < 0 {
			return http.StatusBadRequest, "invalid pageToken " + raw
		}
	}

	s.mu.Lock()

	var matched []*drive.File

	for _, f := range s.files {
		if match(f) {
			cp := *f
			matched = append(matched, &cp)
		}
	}

	s.mu.Unlock()

	// Newest first; ties by id so pages are stable.
	slices.SortFunc(matched, func(a, b *drive.File) int {
		if c := strings.Compare(b.CreatedTime, a.CreatedTime); c != 0 {
			return c
		}

		return strings.Compare(a.Id, b.Id)
	})

	out := &drive.FileList{Files: []*drive.File{}}

	if offset < len(matched) {
		end := min(offset+pageSize, len(matched))
		out.Files = matched[offset:end]

		if end < len(matched) {
			out.NextPageToken = strconv.Itoa(end)
		}
	}

	return http.StatusOK, out
}

// parseQuery compiles the "clause and clause" subset of the Drive query
// language that internal/gdrive produces.
func parseQuery(q string) (func(*drive.File) bool, error) {
	var preds []func(*drive.File) bool

	if strings.TrimSpace(q) == "" {
		return func(*drive.File) bool { return true }, nil
	}

	for _, clause := range strings.Split(q, " and ") {
		clause = strings.TrimSpace(clause)

		pred, err := parseClause(clause)
		if err != nil {
			return nil, err
		}

		preds = append(preds, pred)
	}

	return func(f *drive.File) bool {
		for _, p := range preds {
			if !p(f) {
				return false
			}
		}

		return true
	}, nil
}

func parseClause(clause string) (func(*drive.File) bool, error) {
	if lit, ok := strings.CutSuffix(clause, " in parents"); ok {
		parent, err := unquote(lit)
		if err != nil {
			return nil, err
		}

		return func(f *drive.File) bool { return slices.Contains(f.Parents, parent) }, nil
	}

	if clause == "trashed = false" {
		return func(*drive.File) bool { return true }, nil
	}

	field, op, lit, err := splitComparison(clause)
	if err != nil {
		return nil, err
	}

	value, err := unquote(lit)
	if err != nil {
		return nil, err
	}

	var get func(*drive.File) string

	switch field {
	case "name":
		get = func(f *drive.File) string { return f.Name }
	case "mimeType":
		get = func(f *drive.File) string { return f.MimeType }
	default:
		return nil, fmt.Errorf("unsupported query field %q", field)
	}

	if op == "!=" {
		return func(f *drive.File) bool { return get(f) != value }, nil
	}

	return func(f *drive.File) bool { return get(f) == value }, nil
}

func splitComparison(clause string) (field, op, lit string, err error) {
	for _, candidate := range []string{" != ", " = "} {
		if l, r, ok := strings.Cut(clause, candidate); ok {
			return strings.TrimSpace(l), strings.TrimSpace(candidate), strings.TrimSpace(r), nil
		}
	}

	return "", "", "", fmt.Errorf("unsupported query clause %q", clause)
}

// unquote reverses the query literal escaping of \ and '.
func unquote(lit string) (string, error) {
	if len(lit) < 2 || lit[0] != '\'' || lit[len(lit)-1] != '\'' {
		return "", fmt.Errorf("invalid string literal %s", lit)
	}

	var b strings.Builder

	body := lit[1 : len(lit)-1]
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) {
			i++
		}

		b.WriteByte(body[i])
	}

	return b.String(), nil
}

func parentOrRoot(id string) string {
	if id == "" {
		return rootID
	}

	return id
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": msg,
			"errors": []map[string]string{
				{"reason": http.StatusText(status), "message": msg},
			},
		},
	})
}
