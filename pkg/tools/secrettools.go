package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/tyonishi/commanda-sub001/internal/observability"
	"github.com/tyonishi/commanda-sub001/pkg/dispatcher"
	"github.com/tyonishi/commanda-sub001/pkg/secrets"
)

func storeSecretTool(opts Options) dispatcher.ToolDefinition {
	return dispatcher.ToolDefinition{
		Name:        "store_secret",
		Description: "Store a secret value under a key in the encrypted credential store.",
		Parameters: []dispatcher.ToolParameter{
			{Name: "key", Type: "string", Description: "Secret key", Required: true},
			{Name: "value", Type: "string", Description: "Secret value", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			key, _ := params["key"].(string)
			value, _ := params["value"].(string)

			if err := opts.Secrets.Store(key, value); err != nil {
				return nil, fmt.Errorf("failed to store secret: %w", err)
			}

			opts.countSecretOp("store")
			// Audit metadata carries the key only, never the value.
			observability.RecordSecretAudit(ctx, "secret_stored", "success", map[string]interface{}{
				"key": key,
			})

			return map[string]interface{}{
				"key":    key,
				"stored": true,
			}, nil
		},
	}
}

func retrieveSecretTool(opts Options) dispatcher.ToolDefinition {
	return dispatcher.ToolDefinition{
		Name:        "retrieve_secret",
		Description: "Retrieve a secret value by key.",
		Parameters: []dispatcher.ToolParameter{
			{Name: "key", Type: "string", Description: "Secret key", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			key, _ := params["key"].(string)

			value, err := opts.Secrets.Retrieve(key)
			if err != nil {
				if errors.Is(err, secrets.ErrNotFound) {
					return nil, err
				}
				return nil, fmt.Errorf("failed to retrieve secret: %w", err)
			}

			opts.countSecretOp("retrieve")
			observability.RecordSecretAudit(ctx, "secret_retrieved", "success", map[string]interface{}{
				"key": key,
			})

			return map[string]interface{}{
				"key":   key,
				"value": value,
			}, nil
		},
	}
}

func deleteSecretTool(opts Options) dispatcher.ToolDefinition {
	return dispatcher.ToolDefinition{
		Name:        "delete_secret",
		Description: "Delete a secret by key.",
		Parameters: []dispatcher.ToolParameter{
			{Name: "key", Type: "string", Description: "Secret key", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			key, _ := params["key"].(string)

			deleted, err := opts.Secrets.Delete(key)
			if err != nil {
				return nil, fmt.Errorf("failed to delete secret: %w", err)
			}

			if deleted {
				opts.countSecretOp("delete")
				observability.RecordSecretAudit(ctx, "secret_deleted", "success", map[string]interface{}{
					"key": key,
				})
			}

			return map[string]interface{}{
				"key":     key,
				"deleted": deleted,
			}, nil
		},
	}
}

func listSecretKeysTool(opts Options) dispatcher.ToolDefinition {
	return dispatcher.ToolDefinition{
		Name:        "list_secret_keys",
		Description: "List the keys in the credential store. Values are never returned.",
		Parameters:  []dispatcher.ToolParameter{},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			keys := opts.Secrets.ListKeys()
			opts.countSecretOp("list")

			return map[string]interface{}{
				"keys":  keys,
				"count": len(keys),
			}, nil
		},
	}
}
