// Package index crawls site listings into the media collection, page by
// page, so titles can resolve without fanning a search out to every
// source. Full crawls walk the whole listing and resume where the last
// run stopped, update crawls walk the newest entries until they hit
// something already indexed.
package index

import (
	"context"
	"time"

	"animarr/internal/domain"
	"animarr/internal/logger"

	"github.com/pkg/errors"
)

// pause between listing pages, the sites are other people's servers
const scrapeDelay = 2 * time.Second

// Store is the slice of persistence the crawler writes to.
type Store interface {
	SaveMedia(ctx context.Context, media []domain.Medium) error
	HasMedium(ctx context.Context, id string) (bool, error)
	IndexMeta(ctx context.Context, name string) (domain.IndexMeta, error)
	SetIndexMeta(ctx context.Context, meta domain.IndexMeta) error
}

// Scraper walks one site listing.
type Scraper interface {
	// Name keys the crawl progress in the meta collection.
	Name() string

	// Scrape fetches the listing page at the zero based index and
	// returns its records plus whether another page follows.
	Scrape(ctx context.Context, page int) ([]domain.Medium, bool, error)

	// UpdateUntilKnown reports whether the crawl stops at the first
	// page whose entries are all indexed already.
	UpdateUntilKnown() bool
}

type Runner struct {
	store Store
	log   logger.Logger
	delay time.Duration
}

func NewRunner(store Store, log logger.Logger) *Runner {
	return &Runner{
		store: store,
		log:   log,
		delay: scrapeDelay,
	}
}

// Run walks the scraper's listing and records progress after every
// page. Full crawls pick up at the stored resume point, update crawls
// always start at the newest page.
func (r *Runner) Run(ctx context.Context, s Scraper) error {
	page := 0
	if !s.UpdateUntilKnown() {
		meta, err := r.store.IndexMeta(ctx, s.Name())
		if err != nil {
			return err
		}
		page = meta.LastPage
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.log.Debug().Msgf("%s scraping page %d", s.Name(), page)

		media, hasNext, err := s.Scrape(ctx, page)
		if err != nil {
			return errors.Wrapf(err, "failed to scrape %s page %d", s.Name(), page)
		}

		stop := !hasNext

		// checked before saving, saving would make everything known
		if s.UpdateUntilKnown() && !stop && len(media) > 0 {
			known, err := r.allKnown(ctx, media)
			if err != nil {
				return err
			}
			if known {
				r.log.Info().Msgf("%s reached already indexed entries on page %d", s.Name(), page)
				stop = true
			}
		}

		if len(media) > 0 {
			if err := r.store.SaveMedia(ctx, media); err != nil {
				return err
			}
			r.log.Debug().Msgf("%s saved %d media from page %d", s.Name(), len(media), page)
		}

		// full crawls leave a resume point, a finished walk starts the
		// next run from the top again
		if !s.UpdateUntilKnown() {
			next := page + 1
			if stop {
				next = 0
			}
			meta := domain.IndexMeta{Name: s.Name(), LastPage: next, Updated: time.Now().UTC()}
			if err := r.store.SetIndexMeta(ctx, meta); err != nil {
				return err
			}
		}

		if stop {
			r.log.Info().Msgf("%s done after page %d", s.Name(), page)
			return nil
		}

		page++

		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Runner) allKnown(ctx context.Context, media []domain.Medium) (bool, error) {
	for _, m := range media {
		known, err := r.store.HasMedium(ctx, m.UID)
		if err != nil {
			return false, err
		}
		if !known {
			return false, nil
		}
	}

	return true, nil
}
