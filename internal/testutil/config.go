package testutil

import (
	"time"

	"resellerpay/internal/config"
)

// NewTestConfig mirrors the shipped defaults with fixed secrets.
func NewTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{
				WalletEvents:    "wallet-events",
				OperationEvents: "guarded-operation-events",
				IntegrityAlarms: "wallet-integrity-alarms",
			},
		},
		Auth: config.AuthConfig{
			JWTSecret:        "test-secret",
			TokenTTL:         time.Hour,
			VerificationTTL:  8 * time.Hour,
			PendingActionTTL: 10 * time.Minute,
		},
		Funding: config.FundingConfig{
			MinAmount:            "5",
			MaxAmount:            "5000",
			Currency:             "usd",
			PaymentMethods:       []string{"credit_card", "debit_card"},
			Timezone:             "UTC",
			IntentTimeoutMinutes: 60,
		},
		Business: config.BusinessConfig{
			MaxRetryCount:            3,
			ReconcileIntervalSeconds: 60,
			ReconcileAfterMinutes:    5,
		},
	}
}
