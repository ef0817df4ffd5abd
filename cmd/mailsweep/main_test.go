package main

import (
	"flag"
	"testing"
	"time"

	"aaronromeo.com/mailsweep/internal/config"
	"aaronromeo.com/mailsweep/pkg/base"
	"aaronromeo.com/mailsweep/pkg/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func cliContext(t *testing.T, stringFlags map[string]string, boolFlags map[string]bool) *cli.Context {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for name, value := range stringFlags {
		fs.String(name, value, "")
	}
	for name, value := range boolFlags {
		fs.Bool(name, value, "")
	}
	return cli.NewContext(nil, fs, nil)
}

func TestResolveModeDefaultsToDryRun(t *testing.T) {
	t.Setenv("MAILSWEEP_CONFIRM_CODE", "open-sesame")
	logger := mock.SetupLogger(t)

	c := cliContext(t, map[string]string{"confirm": ""}, map[string]bool{"live": false})
	assert.Equal(t, base.ModeDryRun, resolveMode(c, config.Config{}, logger))
}

func TestResolveModeLiveNeedsConfirmCode(t *testing.T) {
	t.Setenv("MAILSWEEP_CONFIRM_CODE", "open-sesame")
	logger := mock.SetupLogger(t)

	c := cliContext(t, map[string]string{"confirm": ""}, map[string]bool{"live": true})
	assert.Equal(t, base.ModeDryRun, resolveMode(c, config.Config{}, logger))

	c = cliContext(t, map[string]string{"confirm": "wrong"}, map[string]bool{"live": true})
	assert.Equal(t, base.ModeDryRun, resolveMode(c, config.Config{}, logger))

	c = cliContext(t, map[string]string{"confirm": "open-sesame"}, map[string]bool{"live": true})
	assert.Equal(t, base.ModeLive, resolveMode(c, config.Config{}, logger))
}

func TestResolveModeLockedWithoutConfiguredCode(t *testing.T) {
	t.Setenv("MAILSWEEP_CONFIRM_CODE", "")
	logger := mock.SetupLogger(t)

	c := cliContext(t, map[string]string{"confirm": "anything"}, map[string]bool{"live": true})
	assert.Equal(t, base.ModeDryRun, resolveMode(c, config.Config{}, logger))
}

func TestCriteriaFromFlags(t *testing.T) {
	c := cliContext(t,
		map[string]string{"sender": "promo@shop.com", "subject": "", "min-age": "2d"},
		map[string]bool{"exact": true})

	criteria, err := criteriaFromFlags(c, config.Config{}, false)
	require.NoError(t, err)
	assert.Equal(t, "promo@shop.com", criteria.Sender)
	assert.True(t, criteria.SenderExact)
	assert.Equal(t, 48*time.Hour, criteria.MinAge)
}

func TestCriteriaFromFlagsRejectsEmpty(t *testing.T) {
	c := cliContext(t,
		map[string]string{"sender": "", "subject": "", "min-age": ""},
		map[string]bool{"exact": false})

	_, err := criteriaFromFlags(c, config.Config{}, false)
	assert.Error(t, err)
}

func TestCriteriaFromFlagsFallsBackToConfigMinAge(t *testing.T) {
	c := cliContext(t,
		map[string]string{"sender": "", "subject": "", "min-age": ""},
		map[string]bool{"exact": false})

	cfg := config.Config{Defaults: config.Defaults{MinAge: "3d"}}
	criteria, err := criteriaFromFlags(c, cfg, true)
	require.NoError(t, err)
	assert.Equal(t, 72*time.Hour, criteria.MinAge)
}

func TestCriteriaFromFlagsRejectsBadMinAge(t *testing.T) {
	c := cliContext(t,
		map[string]string{"sender": "promo@shop.com", "subject": "", "min-age": "soon"},
		map[string]bool{"exact": false})

	_, err := criteriaFromFlags(c, config.Config{}, false)
	assert.Error(t, err)
}
