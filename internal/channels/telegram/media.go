package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/tgate/internal/backoff"
	"github.com/haasonsaas/tgate/internal/channels"
	"github.com/haasonsaas/tgate/internal/media"
	"github.com/haasonsaas/tgate/internal/observability"
	tgatemodels "github.com/haasonsaas/tgate/pkg/models"
)

const downloadAttempts = 3

// extractMedia lists the files attached to msg. For photos only the
// largest size is kept.
func extractMedia(msg *models.Message) []tgatemodels.MediaRef {
	var refs []tgatemodels.MediaRef
	if n := len(msg.Photo); n > 0 {
		p := msg.Photo[n-1]
		refs = append(refs, tgatemodels.MediaRef{
			Type:   string(media.KindImage),
			FileID: p.FileID,
			Size:   int64(p.FileSize),
		})
	}
	if d := msg.Document; d != nil {
		refs = append(refs, tgatemodels.MediaRef{
			Type: string(media.KindDocument), FileID: d.FileID,
			Name: d.FileName, MimeType: d.MimeType, Size: int64(d.FileSize),
		})
	}
	if v := msg.Video; v != nil {
		refs = append(refs, tgatemodels.MediaRef{
			Type: string(media.KindVideo), FileID: v.FileID,
			Name: v.FileName, MimeType: v.MimeType, Size: int64(v.FileSize),
		})
	}
	if a := msg.Audio; a != nil {
		refs = append(refs, tgatemodels.MediaRef{
			Type: string(media.KindAudio), FileID: a.FileID,
			Name: a.FileName, MimeType: a.MimeType, Size: int64(a.FileSize),
		})
	}
	if v := msg.Voice; v != nil {
		refs = append(refs, tgatemodels.MediaRef{
			Type: string(media.KindVoice), FileID: v.FileID,
			MimeType: v.MimeType, Size: int64(v.FileSize),
		})
	}
	if a := msg.Animation; a != nil {
		refs = append(refs, tgatemodels.MediaRef{
			Type: string(media.KindAnimation), FileID: a.FileID,
			Name: a.FileName, MimeType: a.MimeType, Size: int64(a.FileSize),
		})
	}
	return refs
}

// Ingestor downloads inbound media through the Bot API file endpoint.
type Ingestor struct {
	accountID string
	client    BotClient
	token     string
	apiRoot   string
	http      *http.Client
	maxBytes  int64
	policy    backoff.BackoffPolicy
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// Ingest downloads every ref. Failed downloads are logged, counted and
// left out of the result; they never fail the message.
func (in *Ingestor) Ingest(ctx context.Context, refs []tgatemodels.MediaRef) []tgatemodels.Attachment {
	var out []tgatemodels.Attachment
	for _, ref := range refs {
		att, err := in.fetch(ctx, ref)
		if err != nil {
			in.logger.Warn("dropping attachment",
				"type", ref.Type,
				"file_id", ref.FileID,
				"error", err)
			in.metrics.AttachmentIngested(in.accountID, ref.Type, "failed")
			continue
		}
		in.metrics.AttachmentIngested(in.accountID, ref.Type, "ok")
		out = append(out, att)
	}
	return out
}

func (in *Ingestor) fetch(ctx context.Context, ref tgatemodels.MediaRef) (tgatemodels.Attachment, error) {
	if in.maxBytes > 0 && ref.Size > in.maxBytes {
		return tgatemodels.Attachment{}, fmt.Errorf("file is %d bytes, limit %d", ref.Size, in.maxBytes)
	}

	var file *models.File
	err := backoff.Retry(ctx, in.policy, downloadAttempts, func(int) error {
		f, err := in.client.GetFile(ctx, &bot.GetFileParams{FileID: ref.FileID})
		if err != nil {
			return retryable(classifyError("getFile", err))
		}
		file = f
		return nil
	})
	if err != nil {
		return tgatemodels.Attachment{}, err
	}
	if file.FilePath == "" {
		return tgatemodels.Attachment{}, channels.ErrNotFound("file has no download path", nil)
	}
	if in.maxBytes > 0 && int64(file.FileSize) > in.maxBytes {
		return tgatemodels.Attachment{}, fmt.Errorf("file is %d bytes, limit %d", file.FileSize, in.maxBytes)
	}

	var data []byte
	err = backoff.Retry(ctx, in.policy, downloadAttempts, func(int) error {
		b, err := in.download(ctx, file.FilePath)
		if err != nil {
			return err
		}
		data = b
		return nil
	})
	if err != nil {
		return tgatemodels.Attachment{}, err
	}

	name := ref.Name
	if name == "" {
		name = path.Base(file.FilePath)
	}
	return tgatemodels.Attachment{
		Type:     ref.Type,
		MimeType: media.Resolve(file.FilePath, ref.MimeType, media.Kind(ref.Type)),
		Data:     base64.StdEncoding.EncodeToString(data),
		Name:     name,
		Size:     int64(len(data)),
	}, nil
}

// fileURL builds the authenticated download URL for a file path.
func (in *Ingestor) fileURL(filePath string) string {
	return in.apiRoot + "/file/bot" + in.token + "/" + strings.TrimLeft(filePath, "/")
}

func (in *Ingestor) download(ctx context.Context, filePath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.fileURL(filePath), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := in.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, channels.ErrConnection("download failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, channels.ErrUnavailable(fmt.Sprintf("download returned %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(channels.ErrNotFound(fmt.Sprintf("download returned %d", resp.StatusCode), nil))
	}

	reader := io.Reader(resp.Body)
	if in.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, in.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, channels.ErrConnection("read download", err)
	}
	if in.maxBytes > 0 && int64(len(data)) > in.maxBytes {
		return nil, backoff.Permanent(fmt.Errorf("download exceeds %d bytes", in.maxBytes))
	}
	return data, nil
}
