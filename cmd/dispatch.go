package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nexus/internal/addressing"
	"nexus/internal/dispatch"
	"nexus/internal/remote"
	"nexus/internal/transport"

	"github.com/spf13/cobra"
)

// dispatchCmd groups ad-hoc dispatch commands used to exercise a running
// cluster's handlers from the command line, for operational debugging.
var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Send ad-hoc dispatch envelopes to a live end-point",
}

var (
	dispatchType    string
	dispatchMessage string
)

var dispatchSendCmd = &cobra.Command{
	Use:   "send <end-point>",
	Short: "Dispatch one message to an end-point; no response is read back",
	Args:  cobra.ExactArgs(1),
	RunE:  runDispatchSend,
}

var dispatchPublishCmd = &cobra.Command{
	Use:   "publish <end-point>",
	Short: "Dispatch one message to an end-point without waiting for a response",
	Args:  cobra.ExactArgs(1),
	RunE:  runDispatchPublish,
}

func runDispatchSend(cmd *cobra.Command, args []string) error {
	return dispatchTo(cmd, args[0], true)
}

func runDispatchPublish(cmd *cobra.Command, args []string) error {
	return dispatchTo(cmd, args[0], false)
}

// dispatchTo resolves endPoint against the live route table and delivers
// one ad-hoc envelope, built from --type/--message, directly to the
// resolved peer's transport listener. It does not run a full remote.Dispatcher:
// this is a one-shot client, not a cluster member, so there is no local
// dispatcher or inbound connection to receive a response on; "send" only
// gets as far as confirming the frame was written to the wire.
func dispatchTo(cmd *cobra.Command, endPoint string, wait bool) error {
	if !json.Valid([]byte(dispatchMessage)) {
		return fmt.Errorf("--message must be valid JSON")
	}

	r, err := loadRouter()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	targets, err := r.Resolve(ctx, addressing.EndPointAddressFromString(endPoint))
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no live target registered for end-point %q", endPoint)
	}

	envelope, err := dispatch.EncodeRawEnvelope(dispatchType, json.RawMessage(dispatchMessage), nil)
	if err != nil {
		return err
	}
	frame := remote.EncodeRequestFrame(0, envelope)

	t := transport.New("", 5*time.Second, 0)
	defer t.Stop()

	if err := t.Send(ctx, remote.DispatchAppID, targets[0], frame); err != nil {
		return fmt.Errorf("delivering to %s: %w", targets[0], err)
	}

	if wait {
		fmt.Printf("dispatched %q to %s; no response is read back by this one-shot client\n", dispatchType, targets[0])
	} else {
		fmt.Printf("published %q to %s\n", dispatchType, targets[0])
	}
	return nil
}

func init() {
	dispatchSendCmd.Flags().StringVar(&dispatchType, "type", "", "Wire message-type name the target handler is registered under")
	dispatchSendCmd.Flags().StringVar(&dispatchMessage, "message", "{}", "JSON message body")
	_ = dispatchSendCmd.MarkFlagRequired("type")

	dispatchPublishCmd.Flags().StringVar(&dispatchType, "type", "", "Wire message-type name the target handler is registered under")
	dispatchPublishCmd.Flags().StringVar(&dispatchMessage, "message", "{}", "JSON message body")
	_ = dispatchPublishCmd.MarkFlagRequired("type")

	dispatchCmd.AddCommand(dispatchSendCmd)
	dispatchCmd.AddCommand(dispatchPublishCmd)
}
