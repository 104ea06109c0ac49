package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

// DefaultNumberPrefix — префикс номеров заказов магазина.
const DefaultNumberPrefix = "BF"

const numberDayLayout = "20060102"

// NumberGenerator выдаёт номера вида BF202610140001. При недоступном счётчике
// номер строится из миллисекунд: BF20261014-1760428800000.
type NumberGenerator struct {
	seq    domain.OrderNumberSequence
	prefix string
	logger *log.Entry
}

// NewNumberGenerator создаёт генератор. Пустой prefix заменяется на DefaultNumberPrefix.
func NewNumberGenerator(seq domain.OrderNumberSequence, prefix string, logger *log.Entry) *NumberGenerator {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultNumberPrefix
	}
	if logger == nil {
		logger = log.WithField("component", "order-number")
	}
	return &NumberGenerator{seq: seq, prefix: prefix, logger: logger}
}

// Next возвращает номер для момента at (в UTC).
func (g *NumberGenerator) Next(ctx context.Context, at time.Time) string {
	day := at.UTC().Format(numberDayLayout)

	if g.seq != nil {
		n, err := g.seq.Next(ctx, day)
		if err == nil && n > 0 {
			return fmt.Sprintf("%s%s%04d", g.prefix, day, n)
		}
		g.logger.WithError(err).WithField("day", day).Warn("order sequence unavailable, using timestamp number")
	}
	return g.Fallback(at)
}

// Fallback строит номер без счётчика.
func (g *NumberGenerator) Fallback(at time.Time) string {
	return fmt.Sprintf("%s%s-%d", g.prefix, at.UTC().Format(numberDayLayout), at.UnixMilli())
}
