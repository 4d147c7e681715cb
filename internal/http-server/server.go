package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gin-gonic/gin"
	"github.com/kvizyx/speakerlog/internal/bot"
	recordsessions "github.com/kvizyx/speakerlog/internal/bot/record-sessions"
	"github.com/kvizyx/speakerlog/internal/config"
	"github.com/kvizyx/speakerlog/internal/storage/metadata"
	"github.com/kvizyx/speakerlog/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type RecordingReader interface {
	Get(ctx context.Context, fileName string) (metadata.Record, error)
	ListByGuild(ctx context.Context, guildID snowflake.ID, limit int) ([]metadata.Record, error)
}

type SessionLister interface {
	Sessions() []recordsessions.SessionInfo
}

// RecordingDownloader serves recordings that are no longer on local disk.
type RecordingDownloader interface {
	DownloadRecording(ctx context.Context, objectKey string) (io.ReadCloser, error)
}

type Server struct {
	server *http.Server
	router *gin.Engine

	config     config.Config
	logger     logger.Logger
	recordings RecordingReader
	sessions   SessionLister
	downloader RecordingDownloader
}

type Params struct {
	Config     config.Config
	Logger     logger.Logger
	Recordings RecordingReader
	Sessions   SessionLister
	// Downloader is optional.
	Downloader RecordingDownloader
}

func NewServer(p Params) *Server {
	router := gin.Default()

	server := &http.Server{
		Addr: fmt.Sprintf(
			"0.0.0.0:%d",
			p.Config.HTTP.Port,
		),
		Handler:      router,
		IdleTimeout:  p.Config.HTTP.IdleTimeout,
		ReadTimeout:  p.Config.HTTP.ReadTimeout,
		WriteTimeout: p.Config.HTTP.WriteTimeout,
	}

	s := &Server{
		server: server,
		router: router,

		config:     p.Config,
		logger:     p.Logger,
		recordings: p.Recordings,
		sessions:   p.Sessions,
		downloader: p.Downloader,
	}

	s.routes()

	return s
}

func (s *Server) routes() {
	api := s.router.Group("/api")

	api.GET("/discord/invite-link", s.inviteLink)
	api.GET("/sessions", s.listSessions)
	api.GET("/recordings", s.listRecordings)
	api.GET("/recordings/:file", s.getRecording)
	api.GET("/recordings/:file/audio", s.getRecordingAudio)
}

func (s *Server) inviteLink(c *gin.Context) {
	inviteLink := fmt.Sprintf(
		"https://discord.com/oauth2/authorize?client_id=%s&permissions=%d&scope=bot",
		s.config.Discord.ClientID, bot.Permissions,
	)

	c.Redirect(http.StatusFound, inviteLink)
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.sessions.Sessions()})
}

func (s *Server) listRecordings(c *gin.Context) {
	guildID, err := snowflake.Parse(c.Query("guild_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid guild_id"})
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
	}

	records, err := s.recordings.ListByGuild(c.Request.Context(), guildID, limit)
	if err != nil {
		s.logger.Error("failed to list recordings", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list recordings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"recordings": records})
}

func (s *Server) getRecording(c *gin.Context) {
	record, ok := s.lookup(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) getRecordingAudio(c *gin.Context) {
	record, ok := s.lookup(c)
	if !ok {
		return
	}

	if !record.Finalized() {
		c.JSON(http.StatusConflict, gin.H{"error": "recording is still in progress"})
		return
	}

	ext := s.config.Recorder.FileExtension
	relPath := record.RelativePath(ext)
	localPath := filepath.Join(s.config.Recorder.BaseDir, filepath.FromSlash(relPath))

	if _, err := os.Stat(localPath); err == nil {
		c.FileAttachment(localPath, record.FileName+"."+ext)
		return
	}

	if s.downloader == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "recording file not found"})
		return
	}

	src, err := s.downloader.DownloadRecording(c.Request.Context(), relPath)
	if err != nil {
		s.logger.Error("failed to download recording", slog.Any("error", err))
		c.JSON(http.StatusNotFound, gin.H{"error": "recording file not found"})
		return
	}
	defer src.Close() // nolint: errcheck

	c.DataFromReader(http.StatusOK, -1, "audio/ogg", src, map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s.%s"`, record.FileName, ext),
	})
}

func (s *Server) lookup(c *gin.Context) (metadata.Record, bool) {
	record, err := s.recordings.Get(c.Request.Context(), c.Param("file"))
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "recording not found"})
		return metadata.Record{}, false
	case err != nil:
		s.logger.Error("failed to get recording", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get recording"})
		return metadata.Record{}, false
	}

	return record, true
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("http server started", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	s.logger.Info("http server stopped")

	return nil
}
