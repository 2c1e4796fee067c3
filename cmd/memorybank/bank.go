package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"memorybank/internal/config"
	"memorybank/internal/filemanager"
	"memorybank/internal/host"
	"memorybank/internal/logging"
	"memorybank/internal/memorybank"
	"memorybank/internal/metrics"
	"memorybank/internal/security"
)

// bank is an initialized store with the resources it holds open.
type bank struct {
	store   *memorybank.Store
	audit   *security.AuditLog
	closers []io.Closer
}

func (b *bank) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	return errors.Join(errs...)
}

// openBank wires the disk host, audit log, gate and store from cfg and
// initializes the store. m and notify may be nil.
func openBank(ctx context.Context, cfg *config.Config, logger *logging.AppLogger, m *metrics.Metrics, notify func(host.Level, string)) (*bank, error) {
	root, err := cfg.Workspace()
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	var opts []filemanager.Option
	if notify != nil {
		opts = append(opts, filemanager.WithNotifier(notify))
	}
	fm, err := filemanager.NewFileManager(root, logger, opts...)
	if err != nil {
		return nil, err
	}
	b := &bank{closers: []io.Closer{fm}}

	sinks := []security.AuditSink{
		security.SinkFunc(func(e security.AuditEntry) error {
			m.AuditDecision(string(e.Outcome))
			return nil
		}),
	}
	if cfg.AuditLog != "" {
		fs, err := security.NewFileSink(cfg.AuditLog)
		if err != nil {
			b.Close()
			return nil, err
		}
		sinks = append(sinks, fs)
		b.closers = append(b.closers, fs)
	}
	b.audit = security.NewAuditLog(logger, sinks...)

	bankDir := cfg.ResolveBankDir(fm.WorkspaceRoot())
	gate := security.NewGate(cfg.Policy(bankDir), b.audit, logger)

	store, err := memorybank.New(fm, memorybank.Options{
		BankDir: bankDir,
		Gate:    gate,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("initialize memory bank: %w", err)
	}
	b.store = store
	return b, nil
}

// parseKey accepts a document key with or without its .md suffix, or a
// memory-bank:// URI.
func parseKey(s string) (memorybank.Key, error) {
	if key, ok := memorybank.ParseURI(s); ok {
		return key, nil
	}
	for _, candidate := range []string{s, s + ".md"} {
		if memorybank.IsKey(candidate) {
			return memorybank.Key(candidate), nil
		}
	}
	return "", fmt.Errorf("unknown document %q", s)
}
