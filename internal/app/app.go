// Package app builds the dependency graph shared by the server and the
// scheduled-jobs entry points.
package app

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"booking-inbox/internal/broadcast"
	"booking-inbox/internal/config"
	"booking-inbox/internal/integrations/paramstore"
	"booking-inbox/internal/integrations/whatsapp"
	"booking-inbox/internal/repository"
	"booking-inbox/internal/usecase"
)

const (
	SecretAccessToken  = "whatsapp-access-token"
	SecretVerifyToken  = "whatsapp-verify-token"
	SecretPortalAPIKey = "portal-api-key"
)

// Secrets are resolved lazily; a missing value surfaces as
// paramstore.ErrNotConfigured when first used.
type Secrets struct {
	AccessToken paramstore.Secret
	VerifyToken paramstore.Secret
	APIKey      paramstore.Secret
}

// LoadSecrets reads secrets from SSM under cfg.ParamPrefix when it is set,
// otherwise from the environment values in cfg.
func LoadSecrets(cfg config.Config, getter paramstore.Getter) (Secrets, error) {
	if cfg.ParamPrefix == "" {
		return Secrets{
			AccessToken: paramstore.Static(cfg.WhatsAppAccessToken),
			VerifyToken: paramstore.Static(cfg.WhatsAppVerifyToken),
			APIKey:      paramstore.Static(cfg.PortalAPIKey),
		}, nil
	}
	var (
		s   Secrets
		err error
	)
	if s.AccessToken, err = paramstore.NewParameter(getter, cfg.ParameterName(SecretAccessToken)); err != nil {
		return Secrets{}, err
	}
	if s.VerifyToken, err = paramstore.NewParameter(getter, cfg.ParameterName(SecretVerifyToken)); err != nil {
		return Secrets{}, err
	}
	if s.APIKey, err = paramstore.NewParameter(getter, cfg.ParameterName(SecretPortalAPIKey)); err != nil {
		return Secrets{}, err
	}
	return s, nil
}

type App struct {
	Secrets       Secrets
	Store         *repository.Client
	Events        *broadcast.Broadcaster
	Conversations *usecase.ConversationService
	Sweeper       *usecase.Sweeper
	Reconciler    *usecase.Reconciler
}

// New wires AWS clients, the transport and the usecases from cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}

	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: ssm client: %w", err)
	}
	secrets, err := LoadSecrets(cfg, ssmClient)
	if err != nil {
		return nil, fmt.Errorf("app: secrets: %w", err)
	}

	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TableName)
	if err != nil {
		return nil, fmt.Errorf("app: repository: %w", err)
	}
	return Assemble(cfg, secrets, store, logger)
}

// Assemble builds the usecases on top of an existing store.
func Assemble(cfg config.Config, secrets Secrets, store *repository.Client, logger *slog.Logger) (*App, error) {
	transport, err := whatsapp.NewClient(secrets.AccessToken, cfg.WhatsAppPhoneNumberID,
		whatsapp.WithBaseURL(cfg.GraphBaseURL),
		whatsapp.WithGraphVersion(cfg.GraphVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("app: whatsapp client: %w", err)
	}

	appointments, err := usecase.NewCachedAppointments(store, 0)
	if err != nil {
		return nil, err
	}
	events := broadcast.New()

	conversations, err := usecase.NewConversationService(store, appointments, transport, events, usecase.ConversationOptions{
		ClosedAutoReply: cfg.ClosedAutoReply,
		CloseNotice:     cfg.CloseNotice,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	sweeper, err := usecase.NewSweeper(store, conversations, usecase.SweeperOptions{
		CloseAfter: cfg.AutoCloseAfter,
		Notice:     cfg.AutoCloseNotice,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	reconciler, err := usecase.NewReconciler(store, store, usecase.ReconcilerOptions{
		ChannelID: cfg.WhatsAppPhoneNumberID,
		Limit:     cfg.SyncLimit,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Secrets:       secrets,
		Store:         store,
		Events:        events,
		Conversations: conversations,
		Sweeper:       sweeper,
		Reconciler:    reconciler,
	}, nil
}
