package recording

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog"

	"pict-recorder/database"
	"pict-recorder/metrics"
)

// PostProcessor receives each closed session that produced a non-empty file.
// Failures are its own to log; they never affect the session.
type PostProcessor interface {
	Process(ctx context.Context, sess Session)
}

// Wrapper re-containers a raw recording and returns the new path.
type Wrapper interface {
	Wrap(ctx context.Context, raw string) (string, error)
}

// Uploader copies a finished recording off the device.
type Uploader interface {
	RemoteKey(localPath string) string
	UploadFile(ctx context.Context, localPath, remotePath string) (string, error)
}

// Connectivity gates the upload stage.
type Connectivity interface {
	IsOnline(ctx context.Context) bool
}

// Pipeline wraps, then uploads, keeping the history row in step. Nil stages
// are skipped. While offline the upload is left for cmd/upload.
type Pipeline struct {
	Wrapper      Wrapper
	Uploader     Uploader
	Connectivity Connectivity
	History      database.Database
	Logger       zerolog.Logger
}

// Process runs the enabled stages in order.
func (p *Pipeline) Process(ctx context.Context, sess Session) {
	path := sess.OutputPath
	timer := metrics.NewPostProcessTimer(filepath.Base(path), p.Logger)

	if p.Wrapper != nil {
		timer.Start("wrap")
		out, err := p.Wrapper.Wrap(ctx, path)
		if err != nil {
			timer.End("wrap", "error")
			p.Logger.Warn().Err(err).Str("file", filepath.Base(path)).Msg("MP4 wrap failed; keeping raw file")
		} else {
			timer.End("wrap", "ok")
		}
		if out != "" && out != path {
			path = out
			if p.History != nil {
				if err := p.History.UpdateRecordingPath(sess.ID, path); err != nil {
					p.Logger.Warn().Err(err).Msg("history path update failed")
				}
			}
		}
	}

	if p.Uploader != nil && p.Connectivity != nil && !p.Connectivity.IsOnline(ctx) {
		p.Logger.Info().Str("file", filepath.Base(path)).Msg("Offline; upload deferred")
	} else if p.Uploader != nil {
		timer.Start("upload")
		url, err := p.Uploader.UploadFile(ctx, path, p.Uploader.RemoteKey(path))
		if err != nil {
			timer.End("upload", "error")
			p.Logger.Warn().Err(err).Str("file", filepath.Base(path)).Msg("upload failed")
		} else {
			timer.End("upload", "ok")
			if p.History != nil {
				if err := p.History.SetRemoteURL(sess.ID, url); err != nil {
					p.Logger.Warn().Err(err).Msg("history url update failed")
				}
			}
		}
	}

	p.Logger.Debug().Str("file", filepath.Base(path)).Dur("took", timer.Total()).Msg("post-processing done")
}
