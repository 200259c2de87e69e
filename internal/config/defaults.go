package config

const (
	defaultStagingDir         = "~/.local/share/loom/staging"
	defaultLogDir             = "~/.local/share/loom/logs"
	defaultExportDir          = "~/.local/share/loom/exports"
	defaultDatabasePath       = "~/.local/share/loom/loom.db"
	defaultLogRetentionDays   = 60
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultObjectEndpoint     = "127.0.0.1:9000"
	defaultDatasetBucket      = "loom-datasets"
	defaultModelBucket        = "loom-models"
	defaultCatalogBaseURL     = "https://www.kaggle.com/api/v1"
	defaultCatalogMaxResults  = 20
	defaultCatalogTimeout     = 30
	defaultCatalogDLTimeout   = 1800
	defaultCatalogMaxSizeGB   = 50
	defaultPlannerBaseURL     = "https://openrouter.ai/api/v1/chat/completions"
	defaultPlannerModel       = "google/gemini-3-flash-preview"
	defaultPlannerReferer     = "https://github.com/loom-ml/loom"
	defaultPlannerTitle       = "Loom Planner"
	defaultPlannerTimeoutSecs = 60
	defaultTrainerBinary      = "loom-train"
	defaultTrainerEpochs      = 5
	defaultTrainerDevice      = "auto"
	defaultTrainTimeout       = 21600
	defaultEvaluateTimeout    = 3600
	defaultPollInterval       = 10
	defaultErrorRetryInterval = 5
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultStagingRetention   = 72
	defaultRetryMaxAttempts   = 2
	defaultRetryInitialDelay  = 1
	defaultRetryMultiplier    = 2.0
	defaultStatusWriteRetries = 3
	defaultStatusWriteDelay   = 2
	defaultTrainRatio         = 0.7
	defaultValRatio           = 0.2
	defaultValFromTrain       = 0.2
	defaultSplitSeed          = 42
	defaultNotifyTimeout      = 10
	defaultNotifyDedupWindow  = 600
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			ExportDir:  defaultExportDir,
		},
		Database: Database{
			Path: defaultDatabasePath,
		},
		ObjectStore: ObjectStore{
			Endpoint:      defaultObjectEndpoint,
			DatasetBucket: defaultDatasetBucket,
			ModelBucket:   defaultModelBucket,
		},
		Catalog: Catalog{
			BaseURL:         defaultCatalogBaseURL,
			MaxResults:      defaultCatalogMaxResults,
			RequestTimeout:  defaultCatalogTimeout,
			DownloadTimeout: defaultCatalogDLTimeout,
			MaxSizeGB:       defaultCatalogMaxSizeGB,
		},
		Planner: Planner{
			BaseURL:        defaultPlannerBaseURL,
			Model:          defaultPlannerModel,
			Referer:        defaultPlannerReferer,
			Title:          defaultPlannerTitle,
			TimeoutSeconds: defaultPlannerTimeoutSecs,
		},
		Trainer: Trainer{
			Binary:          defaultTrainerBinary,
			Epochs:          defaultTrainerEpochs,
			Device:          defaultTrainerDevice,
			TrainTimeout:    defaultTrainTimeout,
			EvaluateTimeout: defaultEvaluateTimeout,
		},
		Workflow: Workflow{
			PollInterval:          defaultPollInterval,
			ErrorRetryInterval:    defaultErrorRetryInterval,
			HeartbeatInterval:     defaultHeartbeatInterval,
			HeartbeatTimeout:      defaultHeartbeatTimeout,
			StagingRetentionHours: defaultStagingRetention,
		},
		Retry: Retry{
			MaxAttempts:  defaultRetryMaxAttempts,
			InitialDelay: defaultRetryInitialDelay,
			Multiplier:   defaultRetryMultiplier,
			StatusWrite: StatusWriteRetry{
				MaxAttempts: defaultStatusWriteRetries,
				Delay:       defaultStatusWriteDelay,
			},
		},
		Dataset: Dataset{
			TrainRatio:   defaultTrainRatio,
			ValRatio:     defaultValRatio,
			ValFromTrain: defaultValFromTrain,
			Seed:         defaultSplitSeed,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyTimeout,
			Acquisition:        true,
			Training:           true,
			Evaluation:         true,
			Errors:             true,
			DedupWindowSeconds: defaultNotifyDedupWindow,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
