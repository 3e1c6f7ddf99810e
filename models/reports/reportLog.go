package reports

import (
	"context"
	"time"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/utils"
	"github.com/sirupsen/logrus"
)

func reportSlowMs() int64 {
	ms := config.GetLedgerConfig().ReportSlowMs
	if ms <= 0 {
		ms = 500
	}
	return ms
}

func logSlowReport(ctx context.Context, name string, started time.Time, extra map[string]any) {
	d := time.Since(started)
	if d.Milliseconds() < reportSlowMs() {
		return
	}
	biz, _ := utils.GetBusinessIdFromContext(ctx)
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	config.GetLogger().WithFields(logrus.Fields{
		"report":         name,
		"ms":             d.Milliseconds(),
		"business_id":    biz,
		"correlation_id": cid,
		"extra":          extra,
	}).Warn("slow_report")
}

func logReportError(name, funcName string, data any, err error) {
	config.LogError(config.GetLogger(), "reports", funcName, name, data, err)
}
