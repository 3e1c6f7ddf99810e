package reports

import (
	"context"
	"sort"
	"time"

	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("books_ledger/reports")

// balanceTolerance is the largest rounding gap a balanced statement may show.
var balanceTolerance = decimal.NewFromFloat(0.01)

// StatementLine is one account, or one computed figure when AccountId is 0.
// Amount includes the amounts of Children.
type StatementLine struct {
	AccountId int              `json:"account_id"`
	Code      string           `json:"code"`
	Name      string           `json:"name"`
	Amount    decimal.Decimal  `json:"amount"`
	Children  []*StatementLine `json:"children,omitempty"`
}

// StatementSection groups lines. Subtotal is the sum of the top-level lines; Total is the
// statement's running figure after this section (gross profit after COGS, for example).
type StatementSection struct {
	Name     string           `json:"name"`
	Lines    []*StatementLine `json:"lines"`
	Subtotal decimal.Decimal  `json:"subtotal"`
	Total    decimal.Decimal  `json:"total"`
}

type StatementTotal struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

type Statement struct {
	Title       string              `json:"title"`
	PeriodStart *time.Time          `json:"period_start,omitempty"`
	PeriodEnd   time.Time           `json:"period_end"`
	Sections    []*StatementSection `json:"sections"`
	Totals      []*StatementTotal   `json:"totals"`
}

func (s *Statement) Section(name string) *StatementSection {
	for _, sec := range s.Sections {
		if sec.Name == name {
			return sec
		}
	}
	return nil
}

func (s *Statement) Total(name string) (decimal.Decimal, bool) {
	for _, t := range s.Totals {
		if t.Name == name {
			return t.Amount, true
		}
	}
	return decimal.Zero, false
}

func (s *Statement) addTotal(name string, amount decimal.Decimal) {
	s.Totals = append(s.Totals, &StatementTotal{Name: name, Amount: amount})
}

// accountLines arranges accounts into a tree of lines. Accounts whose parent is not in the
// set become top-level lines. Subtrees that net to zero are dropped.
func accountLines(accounts []*models.Account, amount func(*models.Account) decimal.Decimal) []*StatementLine {
	nodes := make(map[int]*StatementLine, len(accounts))
	own := make(map[int]decimal.Decimal, len(accounts))
	for _, a := range accounts {
		nodes[a.ID] = &StatementLine{AccountId: a.ID, Code: a.FullCode, Name: a.Name}
		own[a.ID] = amount(a)
	}
	var roots []*StatementLine
	for _, a := range accounts {
		node := nodes[a.ID]
		if parent, ok := nodes[a.ParentAccountId]; ok && a.ParentAccountId > 0 {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}
	var fill func(lines []*StatementLine) []*StatementLine
	fill = func(lines []*StatementLine) []*StatementLine {
		sort.SliceStable(lines, func(i, j int) bool { return lines[i].Code < lines[j].Code })
		kept := lines[:0]
		for _, l := range lines {
			l.Children = fill(l.Children)
			l.Amount = own[l.AccountId]
			for _, c := range l.Children {
				l.Amount = l.Amount.Add(c.Amount)
			}
			if l.Amount.IsZero() && len(l.Children) == 0 {
				continue
			}
			kept = append(kept, l)
		}
		return kept
	}
	return fill(roots)
}

func newSection(name string, lines []*StatementLine) *StatementSection {
	sec := &StatementSection{Name: name, Lines: lines, Subtotal: decimal.Zero}
	for _, l := range lines {
		sec.Subtotal = sec.Subtotal.Add(l.Amount)
	}
	sec.Total = sec.Subtotal
	return sec
}

func filterAccounts(accounts []*models.Account, keep func(*models.Account) bool) []*models.Account {
	var out []*models.Account
	for _, a := range accounts {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// debitSide is the debit-minus-credit form of a natural balance; creditSide its negation.
func debitSide(a *models.Account, natural decimal.Decimal) decimal.Decimal {
	return a.Raw(natural)
}

func creditSide(a *models.Account, natural decimal.Decimal) decimal.Decimal {
	return a.Raw(natural).Neg()
}

func requireBusinessId(ctx context.Context) (string, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return "", models.ErrValidation
	}
	return businessId, nil
}

func startReportSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if biz, ok := utils.GetBusinessIdFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("business_id", biz))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endReportSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func dateAttr(key string, d time.Time) attribute.KeyValue {
	return attribute.String(key, d.Format(time.DateOnly))
}
