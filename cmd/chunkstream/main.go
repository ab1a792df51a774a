package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/chunkstream/internal/api"
	"github.com/annel0/chunkstream/internal/config"
	"github.com/annel0/chunkstream/internal/logging"
	"github.com/annel0/chunkstream/internal/observability"
	"github.com/annel0/chunkstream/internal/storage"
	"github.com/annel0/chunkstream/internal/streaming"
	"github.com/annel0/chunkstream/internal/tasks"
	"github.com/annel0/chunkstream/internal/vec"
	"github.com/annel0/chunkstream/internal/viewer"
	"github.com/annel0/chunkstream/internal/world"
	"github.com/annel0/chunkstream/internal/world/block"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Каждый torchEvery-й шаг наблюдатель ставит факел перед собой
const torchEvery = 8

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или ENV CHUNKSTREAM_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.GetLevel())
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	if dir := cfg.Logging.GetDir(); dir != "" {
		logging.LogDir = dir
		if err := logging.InitDefaultLogger("chunkstream", dir, level); err != nil {
			log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
		}
		defer logging.CloseDefaultLogger()
	} else {
		logging.SetLevel(level)
	}
	logging.GetLoggerManager().Configure(level, cfg.Logging.GetDir() != "")
	defer logging.GetLoggerManager().CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("❌ %v", err)
		os.Exit(1)
	}
	logging.Info("👋 Сервис чанков остановлен")
}

func run(ctx context.Context, cfg *config.Config) (err error) {
	logging.Info("🧊 Запуск сервиса чанков: backend=%s, path=%s", cfg.Storage.GetBackend(), cfg.Storage.GetPath())

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logging.Warn("Ошибка остановки телеметрии: %v", err)
		}
	}()

	seed := cfg.World.GetSeed()
	if cfg.Storage.GetBackend() != config.BackendMemory {
		manifest, err := storage.LoadOrCreateManifest(cfg.Storage.GetPath(), seed)
		if err != nil {
			return err
		}
		if manifest.Seed != seed {
			logging.Warn("Сид мира %d из world.yaml заменяет сид конфигурации %d", manifest.Seed, seed)
			seed = manifest.Seed
		}
		logging.Info("🌍 Мир %s, сид %d", manifest.WorldID, seed)
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	executor, err := tasks.NewExecutor(tasks.Options{
		Workers:    cfg.Executor.GetWorkers(),
		QueueSize:  cfg.Executor.GetQueueSize(),
		Registerer: registry,
	})
	if err != nil {
		store.Close()
		return err
	}
	defer executor.Dispose()

	generator := world.NewTerrainGenerator(seed)
	manager, err := streaming.NewManager(store, generator, executor, streaming.WithRegisterer(registry))
	if err != nil {
		store.Close()
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cerr := manager.Close(closeCtx); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if cfg.API.Enabled {
		server, err := api.NewRestServer(api.Config{
			Addr:     cfg.API.GetAddr(),
			Chunks:   manager,
			Executor: executor,
			Registry: registry,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := server.Start(); err != nil {
				logging.Error("❌ REST API остановлен с ошибкой: %v", err)
			}
		}()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Stop(stopCtx); err != nil {
				logging.Error("❌ Ошибка остановки REST API: %v", err)
			}
		}()
		logging.Info("   ❤️  Health check: http://localhost%s/health", cfg.API.GetAddr())
	}

	v := viewer.New(manager, cfg.Viewer.GetRenderDistance(), nil)
	defer func() {
		if cerr := v.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := walk(ctx, v, generator, &cfg.Viewer); err != nil {
		return err
	}
	if err := manager.Flush(ctx); err != nil {
		logging.Error("❌ Не все чанки сохранены: %v", err)
	}
	logging.Info("📊 %+v", manager.Stats())

	if cfg.API.Enabled {
		logging.Info("Сценарий завершён, API работает до сигнала завершения")
		<-ctx.Done()
	}
	return nil
}

// walk ведёт наблюдателя по синусоиде над поверхностью, бросая луч на каждом шаге
func walk(ctx context.Context, v *viewer.Viewer, gen *world.TerrainGenerator, cfg *config.ViewerConfig) error {
	steps := cfg.GetSteps()
	speed := cfg.GetSpeed()
	rayDistance := cfg.GetRayDistance()

	var hits, torches int
	for i := 0; i < steps; i++ {
		if ctx.Err() != nil {
			logging.Info("📡 Сценарий прерван на шаге %d", i)
			return nil
		}

		x := float64(i) * speed
		z := 24 * math.Sin(x/64)
		y := float64(gen.SurfaceHeight(int(x), int(z))) + 3

		if _, _, err := v.MoveTo(ctx, vec.Vec3Float{X: x, Y: y, Z: z}); err != nil {
			return err
		}

		look := vec.Vec3Float{X: 1, Y: -0.6, Z: math.Cos(x/64) * 0.375}
		hit, ok := v.Look(look, rayDistance)
		if !ok {
			continue
		}
		hits++
		if i%torchEvery == 0 && hit.HasPlace && v.Place(hit.Place, block.Torch) {
			torches++
		}
	}

	logging.Info("🚶 Сценарий: %d шагов, попаданий луча %d, факелов %d", steps, hits, torches)
	return nil
}
