package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/msageha/restfile/internal/events"
	"github.com/msageha/restfile/internal/model"
)

const reloadKey = "reload"

// Reload re-reads config.yaml and swaps the registry. When the file does not
// parse or validate the current commands stay registered. Concurrent reloads
// (watcher, CLI, API) share one execution.
func (d *Daemon) Reload(ctx context.Context) (model.ReloadSummary, error) {
	ch := d.reloads.DoChan(reloadKey, func() (any, error) {
		return d.reload()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return model.ReloadSummary{}, res.Err
		}
		return res.Val.(model.ReloadSummary), nil
	case <-ctx.Done():
		return model.ReloadSummary{}, ctx.Err()
	}
}

func (d *Daemon) reload() (model.ReloadSummary, error) {
	id, err := model.GenerateID(model.IDTypeReload)
	if err != nil {
		return model.ReloadSummary{}, fmt.Errorf("generate reload id: %w", err)
	}

	cfg, err := model.LoadConfig(filepath.Join(d.dir, model.ConfigFileName))
	if err != nil {
		d.logger.Warnf("reload=%s keeping current commands: %v", id, err)
		return model.ReloadSummary{}, err
	}
	d.overrides.Apply(&cfg)

	cmds, err := cfg.BuildCommands()
	if err != nil {
		d.logger.Warnf("reload=%s keeping current commands: %v", id, err)
		return model.ReloadSummary{}, fmt.Errorf("invalid %s: %w", model.ConfigFileName, err)
	}

	removed := d.registry.Replace(cmds)
	names := d.registry.Names()

	for _, name := range removed {
		d.bus.Publish(events.EventServiceRemoved, map[string]interface{}{
			"command":   name,
			"reload_id": id,
		})
	}
	for _, name := range names {
		d.bus.Publish(events.EventServiceRegistered, map[string]interface{}{
			"command":   name,
			"reload_id": id,
		})
	}

	d.logger.Infof("reload=%s commands=%v removed=%v", id, names, removed)
	return model.ReloadSummary{Commands: names, Removed: removed}, nil
}
