// Package transcode converts downloaded audio into the device playback
// format by shelling out to ffmpeg.
package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"watchpod/internal/config"
	"watchpod/internal/fileutil"
	"watchpod/internal/logging"
	"watchpod/internal/services"
)

var commandContext = exec.CommandContext

// convertibleExtensions are formats the device cannot play directly.
var convertibleExtensions = map[string]struct{}{
	".m4a":  {},
	".aac":  {},
	".ogg":  {},
	".opus": {},
	".flac": {},
	".wav":  {},
	".wma":  {},
}

// Gateway wraps the ffmpeg and ffprobe binaries.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewGateway constructs a transcoding gateway.
func NewGateway(cfg *config.Config, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "transcode"),
	}
}

// NeedsConversion reports whether the file at path must be transcoded before
// it can play on the device. Files already in the target format pass through
// untouched, and unknown extensions are assumed playable.
func (g *Gateway) NeedsConversion(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "."+strings.ToLower(g.cfg.Audio.Format) {
		return false
	}
	if _, ok := convertibleExtensions[ext]; ok {
		return true
	}
	if ext != ".mp3" {
		g.logger.Warn("unknown audio extension, assuming device-playable",
			logging.String("path", path),
			logging.String("extension", ext),
		)
	}
	return false
}

// Convert transcodes inputPath into outputPath at the configured bitrate.
// A failed run leaves no partial output behind.
func (g *Gateway) Convert(ctx context.Context, inputPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return services.Wrap(services.ErrExternalTool, "transcode", "convert", "create output directory", err)
	}

	args := []string{
		"-y",
		"-nostdin",
		"-i", inputPath,
		"-codec:a", "libmp3lame",
		"-b:a", g.cfg.Audio.Bitrate,
		"-q:a", "2",
		outputPath,
	}

	g.logger.Info("converting audio",
		logging.String("input", inputPath),
		logging.String("output", outputPath),
		logging.String("bitrate", g.cfg.Audio.Bitrate),
	)

	cmd := commandContext(ctx, g.cfg.FFmpegBinary(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if _, removeErr := fileutil.RemoveIfExists(outputPath); removeErr != nil {
			g.logger.Warn("failed to remove partial conversion output",
				logging.Error(removeErr),
				logging.String("output", outputPath),
			)
		}
		detail := stderrTail(stderr.String())
		if detail != "" {
			detail = "ffmpeg: " + detail
		} else {
			detail = "ffmpeg failed"
		}
		return services.Wrap(services.ErrExternalTool, "transcode", "convert", detail, err)
	}
	return nil
}

// ProbeResult holds audio metadata reported by ffprobe.
type ProbeResult struct {
	DurationSeconds int
	BitrateBPS      int
	FormatName      string
}

// Probe inspects an audio file's container metadata.
func (g *Gateway) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := commandContext(ctx, g.cfg.FFprobeBinary(),
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcode", "probe", "ffprobe failed for "+path, err)
	}

	var payload struct {
		Format struct {
			FormatName string `json:"format_name"`
			Duration   string `json:"duration"`
			BitRate    string `json:"bit_rate"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &payload); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "transcode", "probe", "parse ffprobe output", err)
	}

	result := &ProbeResult{FormatName: payload.Format.FormatName}
	if payload.Format.Duration != "" {
		if seconds, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil {
			result.DurationSeconds = int(seconds)
		}
	}
	if payload.Format.BitRate != "" {
		if bps, err := strconv.Atoi(payload.Format.BitRate); err == nil {
			result.BitrateBPS = bps
		}
	}
	return result, nil
}

// ConvertedName maps a source filename to its converted counterpart.
func (g *Gateway) ConvertedName(fileName string) string {
	ext := filepath.Ext(fileName)
	return strings.TrimSuffix(fileName, ext) + "." + strings.ToLower(g.cfg.Audio.Format)
}

func stderrTail(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 {
		return ""
	}
	tail := lines
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}
	joined := strings.TrimSpace(strings.Join(tail, " "))
	if len(joined) > 300 {
		joined = joined[:300]
	}
	return joined
}
