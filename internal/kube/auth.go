package kube

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Paths the kubelet mounts into every pod
const (
	serviceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	serviceAccountCAPath    = "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt"
)

// RestConfig holds everything needed to talk to one API server
type RestConfig struct {
	Host        string
	BearerToken string
	TLSConfig   *tls.Config
}

// kubeconfig mirrors the subset of the kubeconfig format the watchdog reads
type kubeconfig struct {
	CurrentContext string `yaml:"current-context"`
	Contexts       []struct {
		Name    string `yaml:"name"`
		Context struct {
			Cluster string `yaml:"cluster"`
			User    string `yaml:"user"`
		} `yaml:"context"`
	} `yaml:"contexts"`
	Clusters []struct {
		Name    string `yaml:"name"`
		Cluster struct {
			Server                   string `yaml:"server"`
			CertificateAuthority     string `yaml:"certificate-authority"`
			CertificateAuthorityData string `yaml:"certificate-authority-data"`
			InsecureSkipTLSVerify    bool   `yaml:"insecure-skip-tls-verify"`
		} `yaml:"cluster"`
	} `yaml:"clusters"`
	Users []struct {
		Name string `yaml:"name"`
		User struct {
			Token                 string `yaml:"token"`
			TokenFile             string `yaml:"tokenFile"`
			ClientCertificate     string `yaml:"client-certificate"`
			ClientCertificateData string `yaml:"client-certificate-data"`
			ClientKey             string `yaml:"client-key"`
			ClientKeyData         string `yaml:"client-key-data"`
		} `yaml:"user"`
	} `yaml:"users"`
}

// ResolveConfig picks API server credentials the same way kubectl does: an
// explicit kubeconfig path wins, then in-cluster service account credentials,
// then $KUBECONFIG, then ~/.kube/config
func ResolveConfig(kubeconfigPath string) (*RestConfig, error) {
	if kubeconfigPath != "" {
		return FromKubeconfig(kubeconfigPath)
	}
	if cfg, err := InClusterConfig(); err == nil {
		return cfg, nil
	}
	if env := os.Getenv("KUBECONFIG"); env != "" {
		return FromKubeconfig(env)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("no kubeconfig available: %w", err)
	}
	return FromKubeconfig(filepath.Join(home, ".kube", "config"))
}

// InClusterConfig builds credentials from the pod service account mount
func InClusterConfig() (*RestConfig, error) {
	host := os.Getenv("KUBERNETES_SERVICE_HOST")
	port := os.Getenv("KUBERNETES_SERVICE_PORT")
	if host == "" || port == "" {
		return nil, fmt.Errorf("not running inside a cluster")
	}

	token, err := os.ReadFile(serviceAccountTokenPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account token: %w", err)
	}
	caCert, err := os.ReadFile(serviceAccountCAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account CA: %w", err)
	}

	tlsConfig, err := buildTLSConfig(caCert, nil, nil, false)
	if err != nil {
		return nil, err
	}

	return &RestConfig{
		Host:        "https://" + net.JoinHostPort(host, port),
		BearerToken: strings.TrimSpace(string(token)),
		TLSConfig:   tlsConfig,
	}, nil
}

// FromKubeconfig builds credentials from the current-context of a kubeconfig file
func FromKubeconfig(path string) (*RestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read kubeconfig %s: %w", path, err)
	}

	var kc kubeconfig
	if err := yaml.Unmarshal(data, &kc); err != nil {
		return nil, fmt.Errorf("failed to parse kubeconfig %s: %w", path, err)
	}
	if kc.CurrentContext == "" {
		return nil, fmt.Errorf("kubeconfig %s has no current-context", path)
	}

	var clusterName, userName string
	for _, c := range kc.Contexts {
		if c.Name == kc.CurrentContext {
			clusterName = c.Context.Cluster
			userName = c.Context.User
			break
		}
	}
	if clusterName == "" {
		return nil, fmt.Errorf("context %q not found in kubeconfig %s", kc.CurrentContext, path)
	}

	var cfg *RestConfig
	for _, c := range kc.Clusters {
		if c.Name != clusterName {
			continue
		}
		caCert, err := inlineOrFile(c.Cluster.CertificateAuthorityData, c.Cluster.CertificateAuthority)
		if err != nil {
			return nil, err
		}

		var clientCert, clientKey []byte
		var token string
		for _, u := range kc.Users {
			if u.Name != userName {
				continue
			}
			token = u.User.Token
			if token == "" && u.User.TokenFile != "" {
				raw, err := os.ReadFile(u.User.TokenFile)
				if err != nil {
					return nil, fmt.Errorf("failed to read token file: %w", err)
				}
				token = strings.TrimSpace(string(raw))
			}
			if clientCert, err = inlineOrFile(u.User.ClientCertificateData, u.User.ClientCertificate); err != nil {
				return nil, err
			}
			if clientKey, err = inlineOrFile(u.User.ClientKeyData, u.User.ClientKey); err != nil {
				return nil, err
			}
			break
		}

		tlsConfig, err := buildTLSConfig(caCert, clientCert, clientKey, c.Cluster.InsecureSkipTLSVerify)
		if err != nil {
			return nil, err
		}

		cfg = &RestConfig{
			Host:        strings.TrimRight(c.Cluster.Server, "/"),
			BearerToken: token,
			TLSConfig:   tlsConfig,
		}
		break
	}
	if cfg == nil {
		return nil, fmt.Errorf("cluster %q not found in kubeconfig %s", clusterName, path)
	}
	return cfg, nil
}

// inlineOrFile resolves the *-data/file field pair kubeconfigs use for
// certificate material, preferring the inline base64 form
func inlineOrFile(b64, path string) ([]byte, error) {
	if b64 != "" {
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode inline certificate data: %w", err)
		}
		return data, nil
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read certificate file %s: %w", path, err)
		}
		return data, nil
	}
	return nil, nil
}

func buildTLSConfig(caCert, clientCert, clientKey []byte, insecure bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure,
	}

	if len(caCert) > 0 {
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if len(clientCert) > 0 && len(clientKey) > 0 {
		cert, err := tls.X509KeyPair(clientCert, clientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
