package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"aihub/internal/attachment"
	"aihub/internal/chat"
	"aihub/internal/domain"
	"aihub/internal/export"
	"aihub/internal/health"
	"aihub/internal/provider"
)

// --- Health & services ---

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.cfg.Health.Snapshot()
	c.JSON(http.StatusOK, gin.H{"backends": snap, "online": snap.Online(), "total": len(snap)})
}

func (s *Server) handleHealthCheck(c *gin.Context) {
	id := c.Query("backend")
	if id == "" {
		snap := s.cfg.Health.CheckAll(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"backends": snap, "online": snap.Online(), "total": len(snap)})
		return
	}
	h, err := s.cfg.Health.Check(c.Request.Context(), id)
	switch {
	case errors.Is(err, health.ErrUnknownBackend):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, h)
	}
}

func (s *Server) handleListServices(c *gin.Context) {
	if s.cfg.Services == nil {
		unavailable(c, "service store is disabled")
		return
	}
	svcs, err := s.cfg.Services.ListServices(c.Request.Context())
	if err != nil {
		s.internalError(c, "list services", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"services": svcs})
}

type serviceRequest struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	BaseURL   string `json:"base_url" binding:"required"`
	AutoStart *bool  `json:"auto_start"`
}

func (s *Server) handlePutService(c *gin.Context) {
	if s.cfg.Services == nil {
		unavailable(c, "service store is disabled")
		return
	}
	var req serviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	svc := domain.ServiceRecord{ID: id, Name: id, Kind: req.Kind}
	if existing, err := s.cfg.Services.GetService(ctx, id); err != nil {
		s.internalError(c, "get service", err)
		return
	} else if existing != nil {
		svc = *existing
	}
	if req.Name != "" {
		svc.Name = req.Name
	}
	if req.Kind != "" {
		svc.Kind = req.Kind
	}
	svc.BaseURL = strings.TrimRight(req.BaseURL, "/")
	if req.AutoStart != nil {
		svc.AutoStart = *req.AutoStart
	}

	if err := s.cfg.Services.UpsertService(ctx, svc); err != nil {
		s.internalError(c, "upsert service", err)
		return
	}
	saved, err := s.cfg.Services.GetService(ctx, id)
	if err != nil || saved == nil {
		s.internalError(c, "reload service", err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Server) handleModels(c *gin.Context) {
	if s.cfg.Models == nil {
		unavailable(c, "model listing is not available")
		return
	}
	out := s.cfg.Models.ListModels(c.Request.Context())
	if !out.OK {
		backendError(c, out.Err())
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": out.Value})
}

// --- Conversations ---

func (s *Server) session(c *gin.Context) (*chat.Session, bool) {
	sess, err := s.cfg.Sessions.GetOrCreate(c.Param("id"))
	if err != nil {
		s.internalError(c, "open conversation", err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleListConversations(c *gin.Context) {
	if s.cfg.Conversations == nil {
		ids := s.cfg.Sessions.IDs()
		convs := make([]domain.Conversation, 0, len(ids))
		for _, id := range ids {
			convs = append(convs, domain.Conversation{ID: id})
		}
		c.JSON(http.StatusOK, gin.H{"conversations": convs})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	convs, err := s.cfg.Conversations.ListConversations(c.Request.Context(), limit)
	if err != nil {
		s.internalError(c, "list conversations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) handleAddAttachment(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	header, data, ok := readUpload(c)
	if !ok {
		return
	}
	mimeType := header.Header.Get("Content-Type")
	kind, err := attachmentKind(c.PostForm("kind"), mimeType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	a, err := sess.Attachments.Add(kind, header.Filename, mimeType, data)
	if errors.Is(err, attachment.ErrClosed) {
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.internalError(c, "add attachment", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"index": sess.Attachments.Len() - 1, "attachment": a, "pending": sess.Attachments.List()})
}

func (s *Server) handleRemoveAttachment(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}
	if err := sess.Attachments.Remove(index); err != nil {
		if errors.Is(err, attachment.ErrIndexOutOfRange) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.internalError(c, "remove attachment", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": sess.Attachments.List()})
}

type turnRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type turnResponse struct {
	Outcome             chat.Outcome   `json:"outcome"`
	Backend             string         `json:"backend"`
	User                domain.Message `json:"user"`
	Reply               domain.Message `json:"reply"`
	Error               string         `json:"error,omitempty"`
	TranscriptionErrors []string       `json:"transcription_errors,omitempty"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, ok := s.session(c)
	if !ok {
		return
	}

	res, err := sess.Chat.Submit(c.Request.Context(), chat.Turn{Text: req.Text, Model: req.Model}, sess.Attachments)
	switch {
	case errors.Is(err, chat.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": domain.ErrConcurrentSubmissionRejected})
		return
	case errors.Is(err, chat.ErrEmptyTurn):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, chat.ErrClosed):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.internalError(c, "submit turn", err)
		return
	}

	resp := turnResponse{Outcome: res.Outcome, Backend: res.Backend, User: res.User, Reply: res.Reply}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	for _, e := range res.TranscriptionErrors {
		resp.TranscriptionErrors = append(resp.TranscriptionErrors, e.Error())
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleMessages(c *gin.Context) {
	sess, ok := s.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": sess.ID(), "state": sess.Chat.State(), "messages": sess.Chat.Messages()})
}

func (s *Server) handleExport(c *gin.Context) {
	if s.cfg.Exporter == nil {
		unavailable(c, "export is not configured")
		return
	}
	exp := s.cfg.Exporter
	switch format := c.Query("format"); format {
	case "":
	case export.FormatText, export.FormatHTML:
		exp = exp.WithFormat(format)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported export format %q", format)})
		return
	}
	sess, ok := s.session(c)
	if !ok {
		return
	}
	path, err := sess.Chat.Export(c.Request.Context(), exp)
	if err != nil {
		s.internalError(c, "export conversation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path})
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	id := c.Param("id")
	if err := s.cfg.Sessions.Delete(id); err != nil {
		s.logger.Warn("closing conversation left resources behind", "conversation", id, "err", err)
	}
	if s.cfg.Conversations != nil {
		if err := s.cfg.Conversations.DeleteConversation(c.Request.Context(), id); err != nil {
			s.internalError(c, "delete conversation", err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

// --- Direct adapter calls ---

func (s *Server) handleImages(c *gin.Context) {
	if s.cfg.Images == nil {
		unavailable(c, "image generation is disabled")
		return
	}
	var req domain.SynthesisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	if s.offline(c, s.cfg.Images.ID()) {
		return
	}
	out := s.cfg.Images.Invoke(c.Request.Context(), req)
	if !out.OK {
		backendError(c, out.Err())
		return
	}
	c.JSON(http.StatusOK, out.Value)
}

func (s *Server) handleTranscription(c *gin.Context) {
	if s.cfg.Transcriber == nil {
		unavailable(c, "transcription is disabled")
		return
	}
	header, data, ok := readUpload(c)
	if !ok {
		return
	}
	if s.offline(c, s.cfg.Transcriber.ID()) {
		return
	}
	out := s.cfg.Transcriber.Invoke(c.Request.Context(), domain.TranscriptionRequest{
		Audio:    data,
		Filename: header.Filename,
		Language: c.PostForm("language"),
	})
	if !out.OK {
		backendError(c, out.Err())
		return
	}
	c.JSON(http.StatusOK, out.Value)
}

// offline answers 503 when the health monitor reports id offline.
func (s *Server) offline(c *gin.Context, id string) bool {
	if s.cfg.Health == nil || s.cfg.Health.Snapshot().Status(id) != domain.StatusOffline {
		return false
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": id + " is offline", "kind": domain.ErrNetwork})
	return true
}

// --- Helpers ---

func readUpload(c *gin.Context) (*multipart.FileHeader, []byte, bool) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return nil, nil, false
	}
	if header.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return nil, nil, false
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	return header, data, true
}

func attachmentKind(kind, mimeType string) (domain.AttachmentKind, error) {
	switch {
	case kind == string(domain.AttachmentImage):
		return domain.AttachmentImage, nil
	case kind == string(domain.AttachmentAudio):
		return domain.AttachmentAudio, nil
	case kind != "":
		return "", fmt.Errorf("unknown attachment kind %q", kind)
	case strings.HasPrefix(mimeType, "image/"):
		return domain.AttachmentImage, nil
	case strings.HasPrefix(mimeType, "audio/"):
		return domain.AttachmentAudio, nil
	}
	return "", fmt.Errorf("cannot infer attachment kind from %q", mimeType)
}

func backendError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	body := gin.H{"error": err.Error()}
	var be *domain.BackendError
	if errors.As(err, &be) {
		body["kind"] = be.Kind
		switch be.Kind {
		case domain.ErrTimeout:
			status = http.StatusGatewayTimeout
		case domain.ErrNetwork:
			status = http.StatusServiceUnavailable
		case domain.ErrConcurrentSubmissionRejected:
			status = http.StatusConflict
		}
	}
	c.JSON(status, body)
}

func unavailable(c *gin.Context, msg string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": msg})
}

func (s *Server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error("api request failed", "op", op, "path", c.FullPath(), "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}

var _ ModelLister = (*provider.Ollama)(nil)
