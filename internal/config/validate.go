package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateObjectStore(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validatePlanner(); err != nil {
		return err
	}
	if err := c.validateTrainer(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateDataset(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path must be set")
	}
	return nil
}

func (c *Config) validateObjectStore() error {
	if strings.TrimSpace(c.ObjectStore.Endpoint) == "" {
		return errors.New("object_store.endpoint must be set")
	}
	if strings.TrimSpace(c.ObjectStore.DatasetBucket) == "" {
		return errors.New("object_store.dataset_bucket must be set")
	}
	if strings.TrimSpace(c.ObjectStore.ModelBucket) == "" {
		return errors.New("object_store.model_bucket must be set")
	}
	if c.ObjectStore.DatasetBucket == c.ObjectStore.ModelBucket {
		return errors.New("object_store.dataset_bucket and object_store.model_bucket must differ")
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if strings.TrimSpace(c.Catalog.BaseURL) == "" {
		return errors.New("catalog.base_url must be set")
	}
	return ensurePositiveMap(map[string]int{
		"catalog.max_results":      c.Catalog.MaxResults,
		"catalog.request_timeout":  c.Catalog.RequestTimeout,
		"catalog.download_timeout": c.Catalog.DownloadTimeout,
		"catalog.max_size_gb":      c.Catalog.MaxSizeGB,
	})
}

func (c *Config) validatePlanner() error {
	if c.Planner.Enabled && strings.TrimSpace(c.Planner.APIKey) == "" {
		return errors.New("planner.api_key must be set when planner.enabled is true (or set OPENROUTER_API_KEY)")
	}
	return nil
}

func (c *Config) validateTrainer() error {
	if strings.TrimSpace(c.Trainer.Binary) == "" {
		return errors.New("trainer.binary must be set")
	}
	return ensurePositiveMap(map[string]int{
		"trainer.train_timeout":    c.Trainer.TrainTimeout,
		"trainer.evaluate_timeout": c.Trainer.EvaluateTimeout,
	})
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.PollInterval <= 0 {
		return errors.New("workflow.poll_interval must be positive")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	if c.Workflow.StagingRetentionHours < 0 {
		return errors.New("workflow.staging_retention_hours must be >= 0")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if c.Retry.InitialDelay < 0 {
		return errors.New("retry.initial_delay must be >= 0")
	}
	if c.Retry.Multiplier <= 0 {
		return errors.New("retry.multiplier must be positive")
	}
	if c.Retry.StatusWrite.MaxAttempts < 1 {
		return errors.New("retry.status_write.max_attempts must be >= 1")
	}
	if c.Retry.StatusWrite.Delay < 0 {
		return errors.New("retry.status_write.delay must be >= 0")
	}
	return nil
}

func (c *Config) validateDataset() error {
	if c.Dataset.TrainRatio <= 0 {
		return errors.New("dataset.train_ratio must be positive")
	}
	if c.Dataset.ValRatio <= 0 {
		return errors.New("dataset.val_ratio must be positive")
	}
	if c.Dataset.TrainRatio+c.Dataset.ValRatio >= 1.0 {
		return errors.New("dataset.train_ratio + dataset.val_ratio must be below 1.0 to leave a test split")
	}
	if c.Dataset.ValFromTrain <= 0 || c.Dataset.ValFromTrain >= 1 {
		return errors.New("dataset.val_from_train must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Notifications.DedupWindowSeconds < 0 {
		return errors.New("notifications.dedup_window_seconds must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
