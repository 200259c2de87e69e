package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeDatabase(); err != nil {
		return err
	}
	c.normalizeObjectStore()
	c.normalizeCatalog()
	c.normalizePlanner()
	c.normalizeTrainer()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		c.Paths.StagingDir = defaultStagingDir
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ExportDir) == "" {
		c.Paths.ExportDir = defaultExportDir
	}
	if c.Paths.ExportDir, err = expandPath(c.Paths.ExportDir); err != nil {
		return fmt.Errorf("paths.export_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDatabase() error {
	var err error
	if strings.TrimSpace(c.Database.Path) == "" {
		c.Database.Path = defaultDatabasePath
	}
	if c.Database.Path, err = expandPath(c.Database.Path); err != nil {
		return fmt.Errorf("database.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeObjectStore() {
	c.ObjectStore.Endpoint = strings.TrimSpace(c.ObjectStore.Endpoint)
	if c.ObjectStore.Endpoint == "" {
		c.ObjectStore.Endpoint = defaultObjectEndpoint
	}
	c.ObjectStore.AccessKey = strings.TrimSpace(c.ObjectStore.AccessKey)
	if c.ObjectStore.AccessKey == "" {
		if value, ok := os.LookupEnv("LOOM_S3_ACCESS_KEY"); ok {
			c.ObjectStore.AccessKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("MINIO_ROOT_USER"); ok {
			c.ObjectStore.AccessKey = strings.TrimSpace(value)
		}
	}
	c.ObjectStore.SecretKey = strings.TrimSpace(c.ObjectStore.SecretKey)
	if c.ObjectStore.SecretKey == "" {
		if value, ok := os.LookupEnv("LOOM_S3_SECRET_KEY"); ok {
			c.ObjectStore.SecretKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("MINIO_ROOT_PASSWORD"); ok {
			c.ObjectStore.SecretKey = strings.TrimSpace(value)
		}
	}
	c.ObjectStore.Region = strings.TrimSpace(c.ObjectStore.Region)
	c.ObjectStore.DatasetBucket = strings.TrimSpace(c.ObjectStore.DatasetBucket)
	if c.ObjectStore.DatasetBucket == "" {
		c.ObjectStore.DatasetBucket = defaultDatasetBucket
	}
	c.ObjectStore.ModelBucket = strings.TrimSpace(c.ObjectStore.ModelBucket)
	if c.ObjectStore.ModelBucket == "" {
		c.ObjectStore.ModelBucket = defaultModelBucket
	}
}

func (c *Config) normalizeCatalog() {
	c.Catalog.BaseURL = strings.TrimSpace(c.Catalog.BaseURL)
	if c.Catalog.BaseURL == "" {
		c.Catalog.BaseURL = defaultCatalogBaseURL
	}
	c.Catalog.BaseURL = strings.TrimRight(c.Catalog.BaseURL, "/")
	c.Catalog.Username = strings.TrimSpace(c.Catalog.Username)
	if c.Catalog.Username == "" {
		if value, ok := os.LookupEnv("KAGGLE_USERNAME"); ok {
			c.Catalog.Username = strings.TrimSpace(value)
		}
	}
	c.Catalog.APIKey = strings.TrimSpace(c.Catalog.APIKey)
	if c.Catalog.APIKey == "" {
		if value, ok := os.LookupEnv("KAGGLE_KEY"); ok {
			c.Catalog.APIKey = strings.TrimSpace(value)
		}
	}
	if c.Catalog.MaxResults <= 0 {
		c.Catalog.MaxResults = defaultCatalogMaxResults
	}
	if c.Catalog.RequestTimeout <= 0 {
		c.Catalog.RequestTimeout = defaultCatalogTimeout
	}
	if c.Catalog.DownloadTimeout <= 0 {
		c.Catalog.DownloadTimeout = defaultCatalogDLTimeout
	}
	if c.Catalog.MaxSizeGB <= 0 {
		c.Catalog.MaxSizeGB = defaultCatalogMaxSizeGB
	}
}

func (c *Config) normalizePlanner() {
	c.Planner.BaseURL = strings.TrimSpace(c.Planner.BaseURL)
	if c.Planner.BaseURL == "" {
		c.Planner.BaseURL = defaultPlannerBaseURL
	}
	c.Planner.Model = strings.TrimSpace(c.Planner.Model)
	if c.Planner.Model == "" {
		c.Planner.Model = defaultPlannerModel
	}
	c.Planner.Referer = strings.TrimSpace(c.Planner.Referer)
	if c.Planner.Referer == "" {
		c.Planner.Referer = defaultPlannerReferer
	}
	c.Planner.Title = strings.TrimSpace(c.Planner.Title)
	if c.Planner.Title == "" {
		c.Planner.Title = defaultPlannerTitle
	}
	if c.Planner.TimeoutSeconds <= 0 {
		c.Planner.TimeoutSeconds = defaultPlannerTimeoutSecs
	}
	c.Planner.APIKey = strings.TrimSpace(c.Planner.APIKey)
	if c.Planner.APIKey == "" {
		if value, ok := os.LookupEnv("LOOM_PLANNER_API_KEY"); ok {
			c.Planner.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.Planner.APIKey = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeTrainer() {
	c.Trainer.Binary = strings.TrimSpace(c.Trainer.Binary)
	if c.Trainer.Binary == "" {
		c.Trainer.Binary = defaultTrainerBinary
	}
	if c.Trainer.Epochs <= 0 {
		c.Trainer.Epochs = defaultTrainerEpochs
	}
	c.Trainer.Device = strings.TrimSpace(c.Trainer.Device)
	if c.Trainer.Device == "" {
		c.Trainer.Device = defaultTrainerDevice
	}
	if c.Trainer.TrainTimeout <= 0 {
		c.Trainer.TrainTimeout = defaultTrainTimeout
	}
	if c.Trainer.EvaluateTimeout <= 0 {
		c.Trainer.EvaluateTimeout = defaultEvaluateTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
