package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
)

// LiveConfirmationPhrase must be typed verbatim to enable live trading.
const LiveConfirmationPhrase = "START LIVE TRADING"

var errLiveNotConfirmed = errors.New("live trading not confirmed")

// asker is survey.AskOne; tests replace it.
type asker func(p survey.Prompt, response interface{}, opts ...survey.AskOpt) error

// confirmLive asks twice before real orders can be placed.
func confirmLive(ask asker, testnet bool) error {
	venue := "Binance production"
	if testnet {
		venue = "Binance testnet"
	}

	var proceed bool
	if err := ask(&survey.Confirm{
		Message: fmt.Sprintf("Live trading will place real orders on %s. Continue?", venue),
		Default: false,
	}, &proceed); err != nil {
		return fmt.Errorf("live confirmation: %w", err)
	}
	if !proceed {
		return errLiveNotConfirmed
	}

	var phrase string
	if err := ask(&survey.Input{
		Message: fmt.Sprintf("Type %q to continue:", LiveConfirmationPhrase),
		Help:    "Anything else aborts. Use --yes to skip this prompt in unattended runs.",
	}, &phrase); err != nil {
		return fmt.Errorf("live confirmation: %w", err)
	}
	if strings.TrimSpace(phrase) != LiveConfirmationPhrase {
		return errLiveNotConfirmed
	}
	return nil
}
