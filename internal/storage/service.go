package storage

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // IMAGE_TIMEZONE must resolve on minimal images

	"github.com/koios/camera-sim/internal/config"
	"github.com/koios/camera-sim/pkg/models"
	"go.uber.org/zap"
)

const (
	imageExt        = ".jpg"
	filenameLayout  = "2006-01-02_15-04-05"
	folderPerm      = 0o755
	imageFilePerm   = 0o644
	bytesPerMegabye = 1024 * 1024
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Stats summarizes the image folder
type Stats struct {
	Enabled     bool    `json:"enabled"`
	Folder      string  `json:"folder"`
	TotalFiles  int     `json:"totalFiles"`
	TotalSize   int64   `json:"totalSize"`
	TotalSizeMB float64 `json:"totalSizeMB"`
	Error       string  `json:"error,omitempty"`
}

// CleanupResult counts the outcome of a retention sweep
type CleanupResult struct {
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

// Service writes generated frames to a local folder and enforces retention on it
type Service struct {
	enabled  bool
	folder   string
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a storage service. When saving is enabled but the folder cannot be
// created, the service comes up disabled rather than failing startup.
func New(cfg config.StorageConfig, logger *zap.Logger) *Service {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("Unknown image timezone, falling back to UTC",
			zap.String("timezone", cfg.Timezone),
			zap.Error(err))
		loc = time.UTC
	}

	s := &Service{
		enabled:  cfg.SaveImages,
		folder:   cfg.Folder,
		location: loc,
		logger:   logger,
		now:      time.Now,
	}

	if s.enabled {
		if err := os.MkdirAll(s.folder, folderPerm); err != nil {
			logger.Error("Failed to create image folder, disabling image storage",
				zap.String("folder", s.folder),
				zap.Error(err))
			s.enabled = false
		}
	}

	return s
}

// Enabled reports whether frames are being written
func (s *Service) Enabled() bool {
	return s.enabled
}

// Folder returns the target folder
func (s *Service) Folder() string {
	return s.folder
}

// Filename builds <timestamp>_<device>_<position>.jpg in the configured timezone
func (s *Service) Filename(deviceID, position string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s%s",
		ts.In(s.location).Format(filenameLayout),
		sanitize(deviceID),
		sanitize(position),
		imageExt)
}

// Save writes a frame and returns its record. It returns nil when storage is
// disabled or the write fails; failures are logged and never propagated.
func (s *Service) Save(data []byte, deviceID, position string, ts time.Time) *models.StorageRecord {
	if !s.enabled {
		return nil
	}

	filename := s.Filename(deviceID, position, ts)
	path := filepath.Join(s.folder, filename)

	if err := os.WriteFile(path, data, imageFilePerm); err != nil {
		s.logger.Warn("Image save skipped",
			zap.String("device_id", deviceID),
			zap.String("path", path),
			zap.Error(fmt.Errorf("%w: %v", models.ErrPersistence, err)))
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		s.logger.Warn("Image save skipped",
			zap.String("device_id", deviceID),
			zap.String("path", path),
			zap.Error(fmt.Errorf("%w: %v", models.ErrPersistence, err)))
		return nil
	}

	s.logger.Debug("Image saved",
		zap.String("device_id", deviceID),
		zap.String("filename", filename),
		zap.Int64("size", info.Size()))

	return &models.StorageRecord{
		Filename: filename,
		Filepath: path,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
	}
}

// Stats enumerates stored frames
func (s *Service) Stats() Stats {
	stats := Stats{Folder: s.folder}
	if !s.enabled {
		return stats
	}
	if _, err := os.Stat(s.folder); err != nil {
		return stats
	}

	files, err := s.listImages()
	if err != nil {
		s.logger.Error("Failed to read image folder", zap.String("folder", s.folder), zap.Error(err))
		stats.Error = err.Error()
		return stats
	}

	stats.Enabled = true
	for _, f := range files {
		stats.TotalFiles++
		stats.TotalSize += f.Size()
	}
	stats.TotalSizeMB = math.Round(float64(stats.TotalSize)/bytesPerMegabye*100) / 100
	return stats
}

// CleanupOlderThan deletes frames whose modification time is strictly older than maxAge.
// A failure on one file is counted and the sweep continues.
func (s *Service) CleanupOlderThan(maxAge time.Duration) CleanupResult {
	var result CleanupResult
	if !s.enabled {
		return result
	}
	if _, err := os.Stat(s.folder); err != nil {
		return result
	}

	files, err := s.listImages()
	if err != nil {
		s.logger.Error("Failed to read image folder during cleanup", zap.String("folder", s.folder), zap.Error(err))
		return CleanupResult{Errors: 1}
	}

	cutoff := s.now().Add(-maxAge)
	for _, f := range files {
		if !f.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.folder, f.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to delete image", zap.String("path", path), zap.Error(err))
			result.Errors++
			continue
		}
		result.Deleted++
	}

	if result.Deleted > 0 {
		s.logger.Info("Cleaned up old images",
			zap.Int("deleted", result.Deleted),
			zap.Duration("max_age", maxAge))
	}
	return result
}

// StartRetentionSweep runs CleanupOlderThan every interval until ctx is cancelled
func (s *Service) StartRetentionSweep(ctx context.Context, interval, maxAge time.Duration) {
	if !s.enabled || interval <= 0 {
		return
	}

	s.logger.Info("Starting image retention sweep",
		zap.Duration("interval", interval),
		zap.Duration("max_age", maxAge))

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupOlderThan(maxAge)
			}
		}
	}()
}

func (s *Service) listImages() ([]os.FileInfo, error) {
	entries, err := os.ReadDir(s.folder)
	if err != nil {
		return nil, err
	}

	var files []os.FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), imageExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, info)
	}
	return files, nil
}

func sanitize(s string) string {
	return unsafeChars.ReplaceAllString(s, "_")
}
