/*
Copyright 2025 The Kubernetes Authors.

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

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"

	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/cloudprovidersvc"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/config"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/kubeadapter"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/logging"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/metrics"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/proxmoxadapter"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/reconcile"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/scaling"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/seed"
	"github.com/k3s-autoscaler/ca-proxmox-provider/internal/store"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const shutdownTimeout = 30 * time.Second

// serve loads configuration, wires every component together, starts
// the reconcile scheduler and the metrics endpoint, and blocks until a
// termination signal arrives.
func serve(ctx context.Context, configPath string, verbosity int, development bool, metricsAddr string) error {
	logger := logging.New(verbosity, development)
	logger.Info("ca-proxmox-provider starting", "version", version, "commit", commit)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error(err, "failed to load configuration")

		return err
	}

	st, err := store.Open(cfg.StateFilePath)
	if err != nil {
		logger.Error(err, "failed to open state store", "path", cfg.StateFilePath)

		return err
	}
	defer st.Close() //nolint:errcheck

	px := proxmoxadapter.New(cfg.ProxmoxURL, cfg.ProxmoxTokenID, cfg.ProxmoxTokenSecret, cfg.ProxmoxNode, cfg.ProxmoxInsecureTLS, cfg.ProxmoxCallTimeout())

	kubeClient, err := newKubeClient()
	if err != nil {
		logger.Error(err, "failed to build kubernetes client")

		return err
	}

	kube := kubeadapter.New(kubeClient, cfg.KubeNodeCacheTTL())
	uploader := seed.NewUploader(px.Raw(), cfg.ProxmoxNode, cfg.ISOStorage)

	m := metrics.New()

	groups := cfg.Groups()

	reconciler := reconcile.New(st, px, kube, uploader, reconcile.Config{
		Groups:           groups,
		PendingVMTimeout: cfg.PendingVMTimeout(),
		CloudImageURL:    cfg.CloudImageURL,
		ImportStorage:    cfg.ImportStorage,
		VMStorage:        cfg.VMStorage,
		ISOStorage:       cfg.ISOStorage,
		NetworkBridge:    cfg.NetworkBridge,
		K3s: seed.K3sConfig{
			Version:      cfg.K3sVersion,
			ServerURL:    cfg.K3sServerURL,
			Token:        cfg.K3sToken,
			SSHPublicKey: cfg.SSHPublicKey,
		},
	}, logger.WithName("reconciler"), m)

	schedCtx, schedCancel := context.WithCancel(ctx)

	scheduler := reconcile.NewScheduler(schedCtx, schedCancel, reconcile.SchedulerConfig{
		Interval: cfg.ReconcileInterval(),
		Logger:   logger.WithName("scheduler"),
		Metrics:  m,
	}, reconciler)

	controller := scaling.New(st, kube, scheduler, groups, m)

	var _ cloudprovidersvc.Server = controller

	metricsServer, err := startMetricsServer(metricsAddr, m, logger.WithName("metrics"))
	if err != nil {
		logger.Error(err, "failed to start metrics server")

		return err
	}

	scheduler.Start()
	logger.Info("reconcile scheduler started", "interval", cfg.ReconcileInterval())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down gracefully", "signal", sig)
	case <-ctx.Done():
		logger.Info("context canceled, shutting down")
	}

	return shutdown(controller, metricsServer, logger)
}

func shutdown(controller *scaling.Controller, metricsServer *http.Server, logger logr.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = controller.Cleanup(shutdownCtx)
	}()

	select {
	case <-done:
		logger.Info("reconciler stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Info("shutdown timeout exceeded, forcing exit")
	}

	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	return nil
}

func startMetricsServer(addr string, m *metrics.Metrics, logger logr.Logger) (*http.Server, error) {
	if addr == "" {
		logger.Info("metrics server disabled")

		return nil, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "metrics server stopped unexpectedly", "addr", addr)
		}
	}()

	logger.Info("metrics server started", "addr", addr)

	return server, nil
}

// newKubeClient builds a clientset the way this process always runs:
// in-cluster when a service account is mounted, falling back to the
// operator's kubeconfig for local runs against a k3s server.
func newKubeClient() (kubernetes.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		restCfg, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
		if err != nil {
			return nil, err
		}
	}

	return kubernetes.NewForConfig(restCfg)
}
