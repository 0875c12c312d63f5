/*
Copyright 2025 The llm-d Authors.

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

package common

import (
	"github.com/spf13/pflag"

	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// AddKubernetesClientFlags adds the usual kubeconfig flags, skipping any
// that the flag set already has.
func AddKubernetesClientFlags(flags *pflag.FlagSet, loadingRules *clientcmd.ClientConfigLoadingRules, overrides *clientcmd.ConfigOverrides) {
	if loadingRules != nil && flags.Lookup("kubeconfig") == nil {
		flags.StringVar(&loadingRules.ExplicitPath, "kubeconfig", loadingRules.ExplicitPath, "Path to the kubeconfig file to use")
	}
	if overrides == nil {
		return
	}
	if flags.Lookup("context") == nil {
		flags.StringVar(&overrides.CurrentContext, "context", overrides.CurrentContext, "The name of the kubeconfig context to use")
	}
	if flags.Lookup("user") == nil {
		flags.StringVar(&overrides.Context.AuthInfo, "user", overrides.Context.AuthInfo, "The name of the kubeconfig user to use")
	}
	if flags.Lookup("cluster") == nil {
		flags.StringVar(&overrides.Context.Cluster, "cluster", overrides.Context.Cluster, "The name of the kubeconfig cluster to use")
	}
}

// RestConfig loads the client config from the flags, falling back to the
// in-cluster config, and tags it with the given user agent.
func RestConfig(loadingRules *clientcmd.ClientConfigLoadingRules, overrides *clientcmd.ConfigOverrides, userAgent string) (*rest.Config, error) {
	restConfig, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	if err != nil {
		return nil, err
	}
	if len(restConfig.UserAgent) == 0 {
		restConfig.UserAgent = userAgent
	} else {
		restConfig.UserAgent += "/" + userAgent
	}
	return restConfig, nil
}
