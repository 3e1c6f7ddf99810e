package workflow

import (
	"context"

	"github.com/mmdatafocus/books_ledger/config"
	"github.com/mmdatafocus/books_ledger/models"
	"github.com/mmdatafocus/books_ledger/utils"
)

// postingRequiresApproval reports whether post refuses entries nobody approved.
func postingRequiresApproval() bool {
	return config.GetLedgerConfig().RequireApproval
}

// requireActor returns the business in ctx and the actor, falling back to the user in ctx.
func requireActor(ctx context.Context, actor string) (businessId string, who string, err error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return "", "", models.ErrValidation
	}
	if actor == "" {
		actor, _ = utils.GetUserNameFromContext(ctx)
	}
	if actor == "" {
		return "", "", models.ErrValidation
	}
	return businessId, actor, nil
}
