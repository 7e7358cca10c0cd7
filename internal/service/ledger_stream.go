package service

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/tixello/settlement/internal/config"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/metrics"
	"github.com/tixello/settlement/internal/publisher"
	"github.com/tixello/settlement/internal/pubsub"
	pubsubRouter "github.com/tixello/settlement/internal/pubsub/router"
	"github.com/tixello/settlement/internal/types"
)

// LedgerStreamService consumes the ledger transaction stream. It keeps the
// streamed counters used to compare published and committed transactions.
type LedgerStreamService interface {
	RegisterHandler(router *pubsubRouter.Router, cfg *config.Configuration)
}

type ledgerStreamService struct {
	pubSub pubsub.PubSub
	logger *logger.Logger
}

func NewLedgerStreamService(pubSub pubsub.PubSub, logger *logger.Logger) LedgerStreamService {
	return &ledgerStreamService{
		pubSub: pubSub,
		logger: logger,
	}
}

func (s *ledgerStreamService) RegisterHandler(router *pubsubRouter.Router, cfg *config.Configuration) {
	router.AddNoPublishHandler(
		"stored_value_transactions_handler",
		cfg.PubSub.Topic,
		s.pubSub,
		s.processMessage,
	)

	s.logger.Infow("registered ledger stream handler",
		"topic", cfg.PubSub.Topic,
		"backend", cfg.PubSub.Backend,
	)
}

func (s *ledgerStreamService) processMessage(msg *message.Message) error {
	txn, err := publisher.DecodeTransaction(msg)
	if err != nil {
		// a malformed payload never becomes valid, do not retry it
		s.logger.Errorw("dropping malformed ledger transaction",
			"message_uuid", msg.UUID,
			"error", err,
		)
		return nil
	}

	metrics.LedgerTransactionsStreamedTotal.WithLabelValues(string(txn.Type)).Inc()

	s.logger.Debugw("ledger transaction streamed",
		"transaction_id", txn.ID,
		"account_id", txn.AccountID,
		"tenant_id", msg.Metadata.Get("tenant_id"),
		"request_id", msg.Metadata.Get("request_id"),
		"type", txn.Type,
		"amount", txn.Amount,
		"balance_after", txn.BalanceAfter,
	)

	if txn.Type == types.LedgerTransactionTypeRevoke {
		s.logger.Infow("stored value account revoked",
			"account_id", txn.AccountID,
			"actor", txn.Actor,
			"reason", txn.Description,
		)
	}
	return nil
}
