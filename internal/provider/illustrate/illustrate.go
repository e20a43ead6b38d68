// Package illustrate implements Illustrators backed by Unsplash photos or a
// fixed default image.
package illustrate

import (
	"context"
	"errors"
	"strings"

	"github.com/blog-autopilot/internal/media/unsplash"
	"github.com/blog-autopilot/internal/provider"
	"github.com/blog-autopilot/internal/textutil"
	"github.com/blog-autopilot/pkg/logger"
)

const providerName = "unsplash"

// PhotoSource finds and downloads stock photos
type PhotoSource interface {
	GetBestPhoto(ctx context.Context, query string) (*unsplash.Photo, error)
	DownloadPhoto(ctx context.Context, photo *unsplash.Photo) ([]byte, error)
	TrackDownload(ctx context.Context, photo *unsplash.Photo)
	GetAttribution(photo *unsplash.Photo) string
}

// ImageStore keeps a copy of a thumbnail and returns its reference
type ImageStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// Unsplash picks a photo for the post's topic. With a store the image is
// copied there; otherwise the hotlink URL is used as the reference.
type Unsplash struct {
	photos PhotoSource
	store  ImageStore
	log    *logger.Logger
}

// NewUnsplash creates an Unsplash illustrator. store may be nil.
func NewUnsplash(photos PhotoSource, store ImageStore, log *logger.Logger) *Unsplash {
	return &Unsplash{
		photos: photos,
		store:  store,
		log:    log.WithComponent("illustrator"),
	}
}

// Create finds a photo for the topic, falling back to keywords from content
func (u *Unsplash) Create(ctx context.Context, topic, content string) (*provider.Thumbnail, error) {
	queries := []string{topic}
	if kw := textutil.ExtractKeywords(content, 3); len(kw) > 0 {
		queries = append(queries, strings.Join(kw, " "))
	}

	var (
		photo *unsplash.Photo
		err   error
	)
	for _, q := range queries {
		photo, err = u.photos.GetBestPhoto(ctx, q)
		if err == nil || !errors.Is(err, unsplash.ErrNoPhotos) {
			break
		}
		u.log.Debug().Str("query", q).Msg("No photos for query")
	}
	if err != nil {
		return nil, Classify(err)
	}

	ref := photo.URLs.Regular
	if ref == "" {
		ref = photo.URLs.Full
	}
	if u.store != nil {
		data, err := u.photos.DownloadPhoto(ctx, photo)
		if err != nil {
			return nil, Classify(err)
		}
		if ref, err = u.store.Put(ctx, photo.ID+".jpg", data); err != nil {
			return nil, provider.NewError(provider.KindUnavailable, "image-store", err)
		}
	} else {
		u.photos.TrackDownload(ctx, photo)
	}
	if ref == "" {
		return nil, provider.Errorf(provider.KindMalformedOutput, providerName, "photo %s has no image url", photo.ID)
	}

	return &provider.Thumbnail{
		Ref:         ref,
		Attribution: u.photos.GetAttribution(photo),
	}, nil
}

// Classify converts an Unsplash client error into a provider error
func Classify(err error) error {
	var apiErr *unsplash.APIError
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return provider.NewError(provider.KindTimeout, providerName, err)
	case errors.Is(err, unsplash.ErrNoPhotos):
		return provider.NewError(provider.KindUnsupportedInput, providerName, err)
	case errors.As(err, &apiErr):
		return provider.NewError(provider.KindForStatus(apiErr.StatusCode), providerName, err)
	}
	return provider.NewError(provider.KindUnavailable, providerName, err)
}

// Static always returns the same configured image
type Static struct {
	ref         string
	attribution string
}

// NewStatic creates a Static illustrator
func NewStatic(ref, attribution string) *Static {
	return &Static{ref: ref, attribution: attribution}
}

// Create returns the configured image
func (s *Static) Create(ctx context.Context, topic, content string) (*provider.Thumbnail, error) {
	if s.ref == "" {
		return nil, provider.Errorf(provider.KindUnsupportedInput, "static", "no default thumbnail configured")
	}
	return &provider.Thumbnail{Ref: s.ref, Attribution: s.attribution}, nil
}

var (
	_ provider.Illustrator = (*Unsplash)(nil)
	_ provider.Illustrator = (*Static)(nil)
)
