// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// SSRFGuardService はSSRF防止機能のインターフェースを定義する。
// Sourceの登録時、フィード取得時、ヘッドレスブラウザのナビゲーション前に使用される。
type SSRFGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// お知らせフィードの取得に使用する。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	ValidateURL(rawURL string) error

	// ValidateNavigation は静的検証に加えてホスト名を解決し、
	// 解決先のすべてのIPアドレスがブロック対象外であることを検証する。
	// ブラウザはsafeurlのDialerを経由しないため、ナビゲーション前に必ず呼び出す。
	ValidateNavigation(ctx context.Context, rawURL string) error
}

// Resolver はホスト名の解決を抽象化する。net.Resolverが実装する。
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// allowedSchemes はSSRF防止で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はSSRF防止でブロックされるネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// キャリアグレードNAT (RFC 6598)
		"100.64.0.0/10",
		// ループバック (RFC 1122)
		"127.0.0.0/8",
		// リンクローカル (RFC 3927) - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// IPv6ループバック
		"::1/128",
		// IPv6リンクローカル
		"fe80::/10",
		// IPv6ユニークローカル
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct {
	resolver Resolver
}

// NewSSRFGuard はシステムのリゾルバを使うSSRFGuardServiceを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{resolver: net.DefaultResolver}
}

// NewSSRFGuardWithResolver はリゾルバを差し替えたSSRFGuardServiceを生成する。
func NewSSRFGuardWithResolver(resolver Resolver) *ssrfGuard {
	return &ssrfGuard{resolver: resolver}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// DNS再バインディング攻撃にも対応している。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}

// ValidateURL はURLの安全性を静的に検証する。
// スキーム、ホスト、IPリテラルのみを検査し、DNS解決は行わない。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	_, err := g.parseAndCheck(rawURL)
	return err
}

// ValidateNavigation は静的検証の後にホスト名を解決して解決先IPを検証する。
// 解決結果に1つでもブロック対象が含まれれば拒否する。
func (g *ssrfGuard) ValidateNavigation(ctx context.Context, rawURL string) error {
	host, err := g.parseAndCheck(rawURL)
	if err != nil {
		return err
	}
	if net.ParseIP(host) != nil {
		return nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("failed to resolve host %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("no addresses for host: %s", host)
	}
	for _, addr := range addrs {
		if isBlockedIP(addr.IP) {
			return fmt.Errorf("host %s resolves to blocked IP address: %s", host, addr.IP.String())
		}
	}
	return nil
}

// parseAndCheck はURLをパースして静的検証を行い、ホスト名を返す。
func (g *ssrfGuard) parseAndCheck(rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return "", fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return "", fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return host, nil
	}

	if isBlockedHostname(host) {
		return "", fmt.Errorf("blocked host: %s", host)
	}

	return host, nil
}

// isAllowedScheme はURLスキームが許可リストに含まれるかを検証する。
func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	if ip.IsUnspecified() || ip.IsMulticast() {
		return true
	}
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// isBlockedHostname はlocalhostとそのサブドメイン、内部向けTLDを拒否する。
func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return true
	}
	return strings.HasSuffix(lower, ".internal") || strings.HasSuffix(lower, ".local")
}
