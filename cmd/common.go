/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/valpere/peredoc/internal/budget"
	"github.com/valpere/peredoc/internal/config"
	"github.com/valpere/peredoc/internal/detector"
	"github.com/valpere/peredoc/internal/generation"
	"github.com/valpere/peredoc/internal/pipeline"
	"github.com/valpere/peredoc/internal/segmenter"
	"github.com/valpere/peredoc/internal/stage"
	"github.com/valpere/peredoc/internal/store"
	"github.com/valpere/peredoc/internal/translator"
	"github.com/valpere/peredoc/internal/validator"
)

// openStore opens the configured database, creating its directory.
func openStore() (*store.Store, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// loadRouting returns the configured routing, with every primary replaced
// when override is "provider" or "provider:model".
func loadRouting(override string) (*config.Routing, error) {
	routing := config.DefaultRouting()
	if cfg.RoutingFile != "" {
		r, err := config.LoadRouting(cfg.RoutingFile)
		if err != nil {
			return nil, err
		}
		routing = r
	}
	if override != "" {
		provider, model, _ := strings.Cut(override, ":")
		if provider == "mock" {
			provider = "echo"
		}
		routing.Override(provider, model)
	}
	return routing, nil
}

// buildPipeline wires runners for every stage from the routing file and
// starts the pipeline queues.
func buildPipeline(ctx context.Context, db *store.Store, override string) (*pipeline.Pipeline, error) {
	routing, err := loadRouting(override)
	if err != nil {
		return nil, err
	}

	clients := make(map[config.RouteTarget]generation.Client)
	target := func(rt config.RouteTarget) (stage.Target, error) {
		client, ok := clients[rt]
		if !ok {
			client, err = cfg.Client(ctx, rt.Provider, rt.Model)
			if err != nil {
				return stage.Target{}, err
			}
			clients[rt] = client
		}
		return stage.Target{Client: client, Model: rt.Model}, nil
	}

	estimator := budget.New(cfg.Budget)
	log := logrus.NewEntry(logrus.StandardLogger())
	runner := func(name string) (*stage.Runner, error) {
		route := routing.For(name)
		primary, err := target(route.Primary)
		if err != nil {
			return nil, fmt.Errorf("%s stage: %w", name, err)
		}
		r := &stage.Runner{
			Mode:    budget.Mode(name),
			Primary: primary,
			Policy:  cfg.Policy,
			Budget:  estimator,
			Options: cfg.Stage,
			Log:     log,
		}
		if route.Fallback != nil {
			fb, err := target(*route.Fallback)
			if err != nil {
				return nil, fmt.Errorf("%s stage fallback: %w", name, err)
			}
			r.Fallback = &fb
		}
		return r, nil
	}

	var runners pipeline.Runners
	for name, dst := range map[string]**stage.Runner{
		pipeline.StageProfile:   &runners.Profile,
		pipeline.StageDraft:     &runners.Draft,
		pipeline.StageRevise:    &runners.Revise,
		pipeline.StageProofread: &runners.Proofread,
	} {
		r, err := runner(name)
		if err != nil {
			return nil, err
		}
		*dst = r
	}

	det := detector.New()
	seeder, err := translator.New(ctx, cfg.Seed)
	if err != nil {
		return nil, err
	}
	if seeder != nil {
		seeder = &validator.Seeder{Seeder: seeder, Validator: validator.New(det)}
	}

	return pipeline.New(pipeline.Deps{
		Store:     db,
		Segmenter: segmenter.New(det, cfg.MaxUnitChars),
		Runners:   runners,
		Seeder:    seeder,
		Log:       log,
	}, pipeline.Options{
		Workers:       cfg.Pipeline.Workers,
		QueueSize:     cfg.Pipeline.QueueSize,
		PageSize:      cfg.Pipeline.PageSize,
		ChunkChars:    cfg.Pipeline.ChunkChars,
		SkipProofread: cfg.Pipeline.SkipProofread,
		Memory:        cfg.Memory,
	})
}
