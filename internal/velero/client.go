package velero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/psantana5/velero-watchdog/internal/logging"
	"github.com/psantana5/velero-watchdog/internal/models"
)

// backupRequestRe extracts the backup name from velero's confirmation line,
// e.g. `Backup request "daily-20240501120000" submitted successfully.`
var backupRequestRe = regexp.MustCompile(`Backup request "(.*?)"`)

// Client drives the velero CLI for backup listing, schedule triggering and
// backup deletion
type Client struct {
	cmd       string
	namespace string
	runner    Runner
	log       *logging.Logger
}

// NewClient creates a velero CLI client. A nil runner defaults to os/exec.
func NewClient(cmd, namespace string, runner Runner, log *logging.Logger) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{
		cmd:       cmd,
		namespace: namespace,
		runner:    runner,
		log:       log,
	}
}

// ListBackups fetches all backups in the configured namespace through
// `velero backup get -o json`
func (c *Client) ListBackups(ctx context.Context) ([]models.Backup, error) {
	out, err := c.runner.Run(ctx, c.cmd, "backup", "get", "-o", "json", "-n", c.namespace)
	if err != nil {
		return nil, err
	}
	return decodeBackups(out)
}

// TriggerSchedule asks velero to create a fresh backup from a schedule and
// returns the backup name parsed from the CLI confirmation. Output without a
// recognizable backup name is an error; the backup may still have been
// created, so the caller must not assume the trigger never happened.
func (c *Client) TriggerSchedule(ctx context.Context, schedule string) (string, error) {
	c.log.Debug("Triggering schedule", map[string]interface{}{"schedule": schedule})

	out, err := c.runner.Run(ctx, c.cmd, "backup", "create", "--from-schedule", schedule, "-n", c.namespace)
	if err != nil {
		return "", err
	}

	m := backupRequestRe.FindSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("no backup name in velero output: %q", strings.TrimSpace(string(out)))
	}
	return string(m[1]), nil
}

// DeleteBackup removes a backup through the velero CLI, which also cleans up
// object storage artifacts the bare API delete leaves behind
func (c *Client) DeleteBackup(ctx context.Context, name string) error {
	c.log.Debug("Deleting backup via CLI", map[string]interface{}{"backup": name})

	out, err := c.runner.Run(ctx, c.cmd, "delete", "backup", name, "--confirm", "-n", c.namespace)
	if err != nil {
		return err
	}

	c.log.Debug("velero delete output", map[string]interface{}{
		"output": strings.ReplaceAll(strings.TrimSpace(string(out)), "\n", " "),
	})
	return nil
}

// decodeBackups accepts both document shapes velero emits: a BackupList for
// most listings and a bare Backup when a single item comes back
func decodeBackups(data []byte) ([]models.Backup, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var list models.BackupList
	if err := json.Unmarshal(data, &list); err == nil && list.Kind == "BackupList" {
		return list.Items, nil
	}

	var single models.Backup
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("failed to decode velero backup listing: %w", err)
	}
	if single.Metadata.Name == "" {
		return nil, fmt.Errorf("unrecognized velero backup listing output")
	}
	return []models.Backup{single}, nil
}
