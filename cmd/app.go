package cmd

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"dbvault/internal/backup"
	"dbvault/internal/cloud"
	"dbvault/internal/config"
	"dbvault/internal/logging"
	"dbvault/internal/native"
)

// app holds the wired components shared by the CLI commands.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	db     *gorm.DB
	files  *backup.FileStore

	backups   *backup.BackupRepository
	restores  *backup.RestoreRepository
	schedules *backup.ScheduleRepository

	engine    *backup.Engine
	restorer  *backup.Restorer
	scheduler *backup.Scheduler
	retention *backup.RetentionManager

	store  cloud.ObjectStore
	syncer *cloud.Syncer
	native *native.Adapter
}

func (a *app) tenant() string {
	if tenant != "" {
		return tenant
	}
	return a.cfg.Backup.DefaultTenant
}

func logLevel(cfg *config.Config) logging.LogLevel {
	switch {
	case quiet:
		return logging.LogLevelQuiet
	case verbose:
		return logging.LogLevelVerbose
	case cfg.Logging.Level != "":
		return logging.LogLevel(cfg.Logging.Level)
	default:
		return logging.LogLevelNormal
	}
}

// newApp loads configuration and wires every component the commands
// use. Cloud and native pieces stay nil when disabled.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:      logLevel(cfg),
		Format:     cfg.Logging.Format,
		ShowCaller: cfg.Logging.ShowCaller,
		LogFile:    cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := backup.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	files := backup.NewOsFileStore(cfg.Backup.Directory)
	if err := files.EnsureBaseDir(); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	var key []byte
	if cfg.Backup.Encryption.Enabled {
		key, err = cfg.EncryptionKey()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve encryption key: %w", err)
		}
	}

	algorithm, err := backup.ParseCompressionType(cfg.Backup.Compression.Algorithm)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		files:     files,
		backups:   backup.NewBackupRepository(db),
		restores:  backup.NewRestoreRepository(db),
		schedules: backup.NewScheduleRepository(db),
	}

	source := backup.NewGormTableSource(db)
	a.engine = backup.NewEngine(a.backups, source, files, backup.NewCompressionManager(), backup.NewEncryptor(key), logger, backup.EngineOptions{
		CompressionAlgorithm: algorithm,
		CompressionLevel:     cfg.Backup.Compression.Level,
		DefaultRetentionDays: cfg.Backup.RetentionDays,
	})
	a.restorer = backup.NewRestorer(a.restores, a.backups, a.engine, source, logger, backup.RestorerOptions{
		SafetyBackupTimeout: cfg.Backup.SafetyBackupTimeout,
	})
	a.scheduler = backup.NewScheduler(a.schedules, a.engine, source, logger)
	a.retention = backup.NewRetentionManager(a.backups, a.schedules, files, logger, cfg.Backup.MaxBackups)

	if cfg.Cloud.Enabled {
		store, err := cloud.NewObjectStore(ctx, &cfg.Cloud, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize cloud storage: %w", err)
		}
		a.store = store
		a.syncer = cloud.NewSyncer(store, a.backups, files, logger, cfg.Cloud.KeyPrefix, cfg.Cloud.SyncBatchSize)
	}

	if cfg.Native.Enabled {
		dumpFiles := backup.NewOsFileStore(cfg.Native.OutputDir)
		if err := dumpFiles.EnsureBaseDir(); err != nil {
			return nil, fmt.Errorf("failed to create native dump directory: %w", err)
		}
		runner := native.NewPgDumpRunner(cfg.Native.PgDumpPath, cfg.Database)
		a.native = native.NewAdapter(runner, native.NewSQLExporter(source), a.backups, dumpFiles, logger, cfg.Native, cfg.Backup.DefaultTenant)
	}

	return a, nil
}
