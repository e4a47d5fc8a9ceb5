package login_test

import (
	"context"
	"errors"
	"testing"

	"github.com/maheshrc27/postqueue/internal/errs"
	"github.com/maheshrc27/postqueue/internal/login"
	"github.com/maheshrc27/postqueue/internal/login/logintest"
	"github.com/maheshrc27/postqueue/internal/models"
	"github.com/stretchr/testify/require"
)

func TestValidateCode(t *testing.T) {
	t.Parallel()
	require.NoError(t, login.ValidateCode("012345"))
	for _, bad := range []string{"", "1234", "12a45b", "1234567", " 12345", "١٢٣٤٥٦"} {
		var ve *errs.ValidationError
		require.ErrorAs(t, login.ValidateCode(bad), &ve, bad)
	}
}

func TestFlow_NoSecondFactor(t *testing.T) {
	t.Parallel()
	client := logintest.New()
	client.Set("acct1", logintest.Account{Password: "pw"})

	f := login.NewFlow(client, "acct1", "pw")
	require.NoError(t, f.Start(context.Background()))
	require.Equal(t, login.Authenticated, f.State())

	s, method, ok := f.Result()
	require.True(t, ok)
	require.Equal(t, "ext-acct1", s.ExternalID)
	require.Equal(t, models.VerificationNone, method)
}

func TestFlow_AppRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := logintest.New()
	client.Set("acct1", logintest.Account{
		Password: "pw",
		Methods:  []models.VerificationMethod{models.VerificationApp, models.VerificationSMS},
		Code:     "123456",
	})

	f := login.NewFlow(client, "acct1", "pw")
	require.NoError(t, f.Start(ctx))
	require.Equal(t, login.AwaitingMfaMethodChoice, f.State())
	require.ElementsMatch(t, []models.VerificationMethod{models.VerificationApp, models.VerificationSMS}, f.Offered())

	var ve *errs.ValidationError
	require.ErrorAs(t, f.ChooseMethod(models.VerificationWhatsApp), &ve)
	require.Equal(t, login.AwaitingMfaMethodChoice, f.State())

	require.NoError(t, f.ChooseMethod(models.VerificationApp))
	require.Equal(t, login.AwaitingMfaCode, f.State())
	require.NoError(t, f.SubmitCode(ctx, "123456"))

	_, method, ok := f.Result()
	require.True(t, ok)
	require.Equal(t, models.VerificationApp, method)
	require.Equal(t, int64(1), client.LoginCalls.Load())
	require.Equal(t, int64(1), client.ResolveCalls.Load())
}

func TestFlow_BadCodeFormatMakesNoRemoteCall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := logintest.New()
	client.Set("acct1", logintest.Account{
		Password: "pw", Methods: []models.VerificationMethod{models.VerificationSMS}, Code: "654321",
	})

	f := login.NewFlow(client, "acct1", "pw")
	require.NoError(t, f.Start(ctx))
	require.NoError(t, f.ChooseMethod(models.VerificationSMS))

	for _, code := range []string{"12a45b", "1234"} {
		var ve *errs.ValidationError
		require.ErrorAs(t, f.SubmitCode(ctx, code), &ve)
		require.Equal(t, login.AwaitingMfaCode, f.State())
	}
	require.Zero(t, client.ResolveCalls.Load())

	require.NoError(t, f.SubmitCode(ctx, "654321"))
	require.Equal(t, login.Authenticated, f.State())
}

func TestFlow_EmailBranchSendsCodeWithLogin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := logintest.New()
	client.Set("acct1", logintest.Account{
		Password: "pw", Methods: []models.VerificationMethod{models.VerificationEmail}, Code: "111222",
	})

	f := login.NewFlow(client, "acct1", "pw")
	require.NoError(t, f.Start(ctx))
	require.NoError(t, f.ChooseMethod(models.VerificationEmail))
	require.NoError(t, f.SubmitCode(ctx, "111222"))

	_, method, ok := f.Result()
	require.True(t, ok)
	require.Equal(t, models.VerificationEmail, method)
	require.Equal(t, int64(2), client.LoginCalls.Load())
	require.Zero(t, client.ResolveCalls.Load())
}

func TestFlow_FailuresAndReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	client := logintest.New()
	client.Set("acct1", logintest.Account{
		Password: "pw", Methods: []models.VerificationMethod{models.VerificationApp}, Code: "123456",
	})

	f := login.NewFlow(client, "acct1", "wrong")
	err := f.Start(ctx)
	var le *errs.LoginError
	require.ErrorAs(t, err, &le)
	require.Equal(t, errs.BadPassword, le.Kind)
	require.Equal(t, login.Failed, f.State())
	require.Error(t, f.Start(ctx))

	f = login.NewFlow(client, "acct1", "pw")
	require.NoError(t, f.Start(ctx))
	require.NoError(t, f.ChooseMethod(models.VerificationApp))
	err = f.SubmitCode(ctx, "000000")
	require.ErrorAs(t, err, &le)
	require.Equal(t, errs.MfaRejected, le.Kind)
	require.Equal(t, login.Failed, f.State())
	require.True(t, errors.Is(f.Err(), err))

	f.Reset()
	require.Equal(t, login.AwaitingCredentials, f.State())
	require.NoError(t, f.Start(ctx))
	require.NoError(t, f.ChooseMethod(models.VerificationApp))
	require.NoError(t, f.SubmitCode(ctx, "123456"))
	require.Equal(t, login.Authenticated, f.State())
}

func TestFlow_TooManyAttemptsIsDistinct(t *testing.T) {
	t.Parallel()
	client := logintest.New()
	client.Set("acct1", logintest.Account{Password: "pw", Throttle: true})

	f := login.NewFlow(client, "acct1", "pw")
	err := f.Start(context.Background())
	var le *errs.LoginError
	require.ErrorAs(t, err, &le)
	require.Equal(t, errs.TooManyAttempts, le.Kind)
	require.Equal(t, login.Failed, f.State())
}
