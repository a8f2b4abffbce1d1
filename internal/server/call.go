package server

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/njavilas2015/onbbu/internal/config"
	"github.com/njavilas2015/onbbu/pkg/caller"
	"github.com/njavilas2015/onbbu/pkg/commsutil"
	"github.com/njavilas2015/onbbu/pkg/core"
)

// RunCall calls contract name on subject with the JSON object rawPayload (empty means {})
// and writes the response as JSON to out. A reply whose status is not success is returned
// as an error after it is written.
func RunCall(ctx context.Context, cfg *config.Config, subject, name, rawPayload string, out io.Writer) error {
	if err := cfg.ValidateForCall(); err != nil {
		return err
	}

	var payload map[string]interface{}
	if raw := strings.TrimSpace(rawPayload); raw != "" {
		if err := commsutil.DecodePayload([]byte(raw), &payload); err != nil {
			return fmt.Errorf("%s - payload must be a JSON object: %w", logPrefix, err)
		}
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	c, err := caller.New(subject,
		caller.WithURL(cfg.ServersURL()),
		caller.WithName(cfg.COMMSName+"-cli"),
		caller.WithRequestTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		return err
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Die(context.Background())

	resp, err := c.Call(ctx, payload, name)
	if err != nil {
		return err
	}
	data, err := commsutil.EncodePayload(resp)
	if err != nil {
		return fmt.Errorf("%s - failed to encode response: %w", logPrefix, err)
	}
	if _, err := fmt.Fprintln(out, string(data)); err != nil {
		return err
	}
	if resp.StatusCode != core.StatusSuccess {
		return fmt.Errorf("%s - %s replied %s", logPrefix, name, resp.StatusCode)
	}
	return nil
}
