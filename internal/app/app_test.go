package app

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/require"

	"booking-inbox/internal/config"
	"booking-inbox/internal/integrations/paramstore"
	"booking-inbox/internal/repository"
)

type mapGetter map[string]string

func (m mapGetter) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", errors.New("parameter not found")
	}
	return v, nil
}

// emptyDynamo answers every call with an empty result.
type emptyDynamo struct{}

func (emptyDynamo) GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{}, nil
}

func (emptyDynamo) PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return &dynamodb.PutItemOutput{}, nil
}

func (emptyDynamo) UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return &dynamodb.UpdateItemOutput{}, nil
}

func (emptyDynamo) Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return &dynamodb.QueryOutput{}, nil
}

func (emptyDynamo) TransactWriteItems(context.Context, *dynamodb.TransactWriteItemsInput, ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func mustConfig(t *testing.T, vars map[string]string) config.Config {
	t.Helper()
	base := map[string]string{"TABLE_NAME": "inbox"}
	for k, v := range vars {
		base[k] = v
	}
	cfg, err := config.LoadFrom(base)
	require.NoError(t, err)
	return cfg
}

func TestLoadSecrets_FromEnvironment(t *testing.T) {
	cfg := mustConfig(t, map[string]string{
		"WHATSAPP_ACCESS_TOKEN": "access",
		"PORTAL_API_KEY":        "portal",
	})
	s, err := LoadSecrets(cfg, nil)
	require.NoError(t, err)

	v, err := s.AccessToken.Value(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access", v)

	_, err = s.VerifyToken.Value(context.Background())
	require.ErrorIs(t, err, paramstore.ErrNotConfigured)
}

func TestLoadSecrets_FromParameterStore(t *testing.T) {
	cfg := mustConfig(t, map[string]string{"PARAM_PREFIX": "/inbox/prod/"})
	getter := mapGetter{
		"/inbox/prod/whatsapp-access-token": `{"token":"access"}`,
		"/inbox/prod/whatsapp-verify-token": `{"token":"verify"}`,
		"/inbox/prod/portal-api-key":        `{"token":"portal"}`,
	}
	s, err := LoadSecrets(cfg, getter)
	require.NoError(t, err)

	for want, secret := range map[string]paramstore.Secret{"access": s.AccessToken, "verify": s.VerifyToken, "portal": s.APIKey} {
		got, err := secret.Value(context.Background())
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestLoadSecrets_ParameterStoreNeedsGetter(t *testing.T) {
	cfg := mustConfig(t, map[string]string{"PARAM_PREFIX": "/inbox"})
	_, err := LoadSecrets(cfg, nil)
	require.Error(t, err)
}

func TestAssemble(t *testing.T) {
	cfg := mustConfig(t, map[string]string{"WHATSAPP_PHONE_NUMBER_ID": "PNID"})
	secrets, err := LoadSecrets(cfg, nil)
	require.NoError(t, err)
	store, err := repository.New(emptyDynamo{}, cfg.TableName)
	require.NoError(t, err)

	a, err := Assemble(cfg, secrets, store, nil)
	require.NoError(t, err)
	t.Cleanup(a.Events.Close)

	sweep, err := a.Sweeper.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, sweep.Considered)

	sync, err := a.Reconciler.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, sync.Total)

	convs, err := a.Conversations.Conversations(context.Background(), true, 10)
	require.NoError(t, err)
	require.Empty(t, convs)
}
