package publisher

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/tixello/settlement/internal/config"
	"github.com/tixello/settlement/internal/domain/storedvalue"
	ierr "github.com/tixello/settlement/internal/errors"
	"github.com/tixello/settlement/internal/logger"
	"github.com/tixello/settlement/internal/pubsub"
	"github.com/tixello/settlement/internal/types"
)

// LedgerPublisher streams committed ledger transactions to statement consumers
type LedgerPublisher interface {
	Publish(ctx context.Context, txn *storedvalue.Transaction) error
}

type ledgerPublisher struct {
	pubsub pubsub.Publisher
	topic  string
	logger *logger.Logger
}

func NewLedgerPublisher(ps pubsub.Publisher, cfg *config.Configuration, logger *logger.Logger) LedgerPublisher {
	return &ledgerPublisher{
		pubsub: ps,
		topic:  cfg.PubSub.Topic,
		logger: logger,
	}
}

func (p *ledgerPublisher) Publish(ctx context.Context, txn *storedvalue.Transaction) error {
	payload, err := json.Marshal(txn)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to encode ledger transaction").
			Mark(ierr.ErrSystem)
	}

	// message id is the transaction id so consumers can deduplicate
	msg := message.NewMessage(txn.ID, payload)
	msg.Metadata.Set("tenant_id", txn.TenantID)
	msg.Metadata.Set("account_id", txn.AccountID)
	msg.Metadata.Set("type", string(txn.Type))
	if requestID := types.GetRequestID(ctx); requestID != "" {
		msg.Metadata.Set("request_id", requestID)
	}

	p.logger.Debugw("publishing ledger transaction",
		"transaction_id", txn.ID,
		"account_id", txn.AccountID,
		"type", txn.Type,
		"topic", p.topic,
	)

	if err := p.pubsub.Publish(ctx, p.topic, msg); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to publish ledger transaction").
			Mark(ierr.ErrSystem)
	}
	return nil
}

// DecodeTransaction reads a ledger transaction back from a stream message
func DecodeTransaction(msg *message.Message) (*storedvalue.Transaction, error) {
	var txn storedvalue.Transaction
	if err := json.Unmarshal(msg.Payload, &txn); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Invalid ledger transaction payload").
			Mark(ierr.ErrValidation)
	}
	return &txn, nil
}
