package kb

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/caseflow/internal/snow"
)

// ArticleWriter is the ticketing-side surface the publisher needs.
// Satisfied by *snow.RESTClient.
type ArticleWriter interface {
	CreateKnowledgeArticle(ctx context.Context, shortDescription, text, sourceCase string) (*snow.CreatedRecord, error)
}

// TicketingPublisher writes finished articles into the ticketing
// system's knowledge base as drafts.
type TicketingPublisher struct {
	writer ArticleWriter
	logger log.Logger
}

func NewTicketingPublisher(writer ArticleWriter, logger log.Logger) *TicketingPublisher {
	if logger == nil {
		logger = log.Nop()
	}
	return &TicketingPublisher{writer: writer, logger: logger}
}

// Publish creates the article record and logs where it landed.
func (p *TicketingPublisher) Publish(ctx context.Context, caseNumber string, art *Article) error {
	rec, err := p.writer.CreateKnowledgeArticle(ctx, art.Title, art.Body, caseNumber)
	if err != nil {
		return fmt.Errorf("publish article for %s: %w", caseNumber, err)
	}
	p.logger.Info(ctx, "knowledge article created",
		"case_number", caseNumber,
		"article_number", rec.Number,
		"article_url", rec.URL,
	)
	return nil
}
