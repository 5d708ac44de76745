// Package signal turns raw trade-call text from the feed into structured
// trade parameters.
package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signaloor/internal/models"
)

// ErrParse tags every parse failure so callers can drop malformed messages
// without inspecting the message text.
var ErrParse = errors.New("parse signal")

// ParseError names the field that was missing or malformed.
type ParseError struct {
	Field string
	Cause error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse signal: %s: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("parse signal: missing %s", e.Field)
}

func (e *ParseError) Unwrap() error { return ErrParse }

var (
	symbolRe   = regexp.MustCompile(`setup: ([a-z]+)`)
	sideRe     = regexp.MustCompile(`(\w+) trade`)
	entryRe    = regexp.MustCompile(`entry zone: (\d+\.\d+[^\d]*\d+\.\d+)`)
	stopLossRe = regexp.MustCompile(`stop-loss: (\d+\.\d+)`)
	// Lazy match so "target 1: 105.00" captures the whole price, not a
	// suffix of it.
	targetRe = regexp.MustCompile(`target.*?(\d+\.\d+)`)
)

// Parser extracts a trade call from raw signal text. Each line matches at
// most one recognized pattern; required fields are symbol, side, a two-price
// entry zone, a stop-loss, and at least one target.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

// Parse builds a Trade from text. The returned trade carries the message id,
// timestamp and the content hash used for duplicate suppression; order
// snapshots are nil.
func (p *Parser) Parse(messageID int64, text string, ts time.Time) (*models.Trade, error) {
	trade := &models.Trade{
		ID:        messageID,
		Timestamp: ts,
		TextHash:  TextHash(text),
	}

	for _, line := range strings.Split(strings.ToLower(text), "\n") {
		if m := symbolRe.FindStringSubmatch(line); m != nil {
			trade.Symbol = strings.ToUpper(m[1])
			continue
		}

		if m := sideRe.FindStringSubmatch(line); m != nil {
			switch m[1] {
			case "long":
				trade.Side = "BUY"
			case "short":
				trade.Side = "SELL"
			default:
				return nil, &ParseError{Field: "side", Cause: fmt.Errorf("invalid trade type %q", m[1])}
			}
			continue
		}

		if m := entryRe.FindStringSubmatch(line); m != nil {
			entry, err := parseEntryZone(m[1])
			if err != nil {
				return nil, err
			}
			trade.Entry = entry
			continue
		}

		if m := stopLossRe.FindStringSubmatch(line); m != nil {
			stop, err := decimal.NewFromString(m[1])
			if err != nil {
				return nil, &ParseError{Field: "stop_loss", Cause: err}
			}
			trade.StopLoss = stop
			continue
		}

		if m := targetRe.FindStringSubmatch(line); m != nil {
			target, err := decimal.NewFromString(m[1])
			if err != nil {
				return nil, &ParseError{Field: "target", Cause: err}
			}
			trade.Targets = append(trade.Targets, target)
			continue
		}
	}

	if trade.Symbol == "" {
		return nil, &ParseError{Field: "symbol"}
	}
	if trade.Side == "" {
		return nil, &ParseError{Field: "side"}
	}
	if len(trade.Entry) != 2 {
		return nil, &ParseError{Field: "entry"}
	}
	if trade.StopLoss.IsZero() {
		return nil, &ParseError{Field: "stop_loss"}
	}
	if len(trade.Targets) == 0 {
		return nil, &ParseError{Field: "targets"}
	}

	sort.Slice(trade.Targets, func(i, j int) bool {
		return trade.Targets[i].LessThan(trade.Targets[j])
	})

	return trade, nil
}

func parseEntryZone(zone string) (models.PriceList, error) {
	parts := strings.SplitN(zone, "-", 2)
	if len(parts) != 2 {
		return nil, &ParseError{Field: "entry"}
	}

	entry := make(models.PriceList, 0, 2)
	for _, part := range parts {
		v, err := decimal.NewFromString(strings.TrimSpace(part))
		if err != nil {
			return nil, &ParseError{Field: "entry", Cause: err}
		}
		entry = append(entry, v)
	}
	return entry, nil
}

// TextHash is the content hash used to suppress duplicate signals posted
// within a short window under different message ids.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
