package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/localrivet/jobwire/client"
	"github.com/localrivet/jobwire/protocol"
	"github.com/localrivet/jobwire/transport"
)

func newInvokeCmd() *cobra.Command {
	var signature []string
	cmd := &cobra.Command{
		Use:   "invoke <node> <operation> [json-arg...]",
		Short: "Invoke an operation on a node and print the result as JSON",
		Long: "Invoke an operation on a node. Each argument is a JSON value; the\n" +
			"parameter signature is inferred from the values unless --signature is given.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseArgs(args[2:])
			if err != nil {
				return err
			}
			if len(signature) == 0 {
				signature = inferSignature(values)
			} else if len(signature) != len(values) {
				return fmt.Errorf("--signature has %d types for %d arguments", len(signature), len(values))
			}

			c, logger, err := connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			result, err := invokeOperation(cmd.Context(), c.Session, c.Conn(), logger,
				protocol.NodeID(args[0]), args[1], signature, values)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringSliceVar(&signature, "signature", nil, "Parameter types, e.g. int,string")
	return cmd
}

// parseArgs decodes each argument as JSON. Integral numbers become int64 and
// other numbers float64.
func parseArgs(raw []string) ([]any, error) {
	values := make([]any, len(raw))
	for i, arg := range raw {
		dec := json.NewDecoder(bytes.NewReader([]byte(arg)))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("argument %d is not JSON: %w", i+1, err)
		}
		if dec.More() {
			return nil, fmt.Errorf("argument %d holds more than one JSON value", i+1)
		}
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				v = i
			} else if f, err := n.Float64(); err == nil {
				v = f
			}
		}
		values[i] = v
	}
	return values, nil
}

func inferSignature(values []any) []string {
	sig := make([]string, len(values))
	for i, v := range values {
		switch v.(type) {
		case string:
			sig[i] = string(protocol.TypeString)
		case int64:
			sig[i] = string(protocol.TypeInt)
		case float64:
			sig[i] = "double"
		case bool:
			sig[i] = string(protocol.TypeBool)
		default:
			sig[i] = string(protocol.TypeObject)
		}
	}
	return sig
}

// invokeOperation calls the operation through the node's proxy when one of
// its capabilities declares it, and straight over the connection otherwise.
func invokeOperation(ctx context.Context, session *client.Session, conn transport.RemoteConnection, logger *slog.Logger,
	node protocol.NodeID, name string, signature []string, args []any) (any, error) {
	proxy, err := session.Create(ctx, node)
	if err != nil {
		return nil, err
	}
	for _, op := range proxy.Operations() {
		if op.Name == name && slices.Equal(op.Signature(), signature) {
			return proxy.Invoke(ctx, op, args...)
		}
	}

	logger.Debug("No capability declares the operation, invoking directly",
		"node", string(node), "operation", name, "signature", signature)
	return conn.Invoke(ctx, node, name, signature, args)
}
