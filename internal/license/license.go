// 包 license 为授权服务客户端：激活、校验与本地缓存。
//
// 有效期判断以许可证到期时间 lic_exp 为准，缺失时退回令牌到期时间 token_exp。
// 缓存文件通过临时文件加重命名整体替换。
package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/ysmood/gson"

	"douyin-harvester/internal/dom"
	"douyin-harvester/internal/fetch"
	"douyin-harvester/internal/logx"
)

// Product 为授权服务中的产品标识。
const Product = "douyin-auto"

// DefaultServer 为未配置时使用的授权服务地址。
const DefaultServer = "https://license.example.com"

// ErrNoToken 本地没有可用于校验的令牌。
var ErrNoToken = errors.New("license: no token")

// RejectedError 为服务端返回 status != "ok"。
type RejectedError struct{ Message string }

func (e *RejectedError) Error() string { return "license rejected: " + e.Message }

// 服务端可能使用的许可证到期字段。
var licExpKeys = []string{"license_exp", "license_exp_ts", "license_until", "lic_exp", "lic_expire_ts", "expire_at", "expires_at"}

// Cache 为落盘的授权状态。
type Cache struct {
	Key      string `json:"key"`
	Token    string `json:"token"`
	TokenExp int64  `json:"token_exp"`
	LicExp   int64  `json:"lic_exp"`
	Exp      int64  `json:"exp"` // 旧字段，等同 token_exp
}

// Status 为当前授权状态。
type Status struct {
	Valid    bool   `json:"valid"`
	Expired  bool   `json:"expired"`
	Key      string `json:"key"`
	TokenExp int64  `json:"token_exp"`
	LicExp   int64  `json:"lic_exp"`
	Exp      int64  `json:"exp"`
}

// Client 为授权客户端，可并发使用。
type Client struct {
	HTTP      *fetch.Client
	Server    string
	CachePath string
	Now       func() time.Time
	HWID      func() string

	mu    sync.Mutex
	state Cache
}

// New 创建客户端并读取已有缓存。
func New(cl *fetch.Client, server, cachePath string) *Client {
	c := &Client{HTTP: cl, Server: strings.TrimRight(server, "/"), CachePath: cachePath}
	if c.Server == "" {
		c.Server = DefaultServer
	}
	c.Load()
	return c
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Client) hwid() string {
	if c.HWID != nil {
		return c.HWID()
	}
	return HardwareID()
}

// HardwareID 由系统、架构、主机名与首个网卡地址计算 sha256。
func HardwareID() string {
	host, _ := os.Hostname()
	bits := []string{runtime.GOOS, runtime.GOARCH, host, firstMAC()}
	sum := sha256.Sum256([]byte(strings.Join(bits, "||")))
	return hex.EncodeToString(sum[:])
}

func firstMAC() string {
	ifs, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, i := range ifs {
		if len(i.HardwareAddr) > 0 && i.Flags&net.FlagLoopback == 0 {
			return i.HardwareAddr.String()
		}
	}
	return ""
}

// Load 读取缓存文件；文件缺失或损坏时状态清空，但保留可读到的 key 供预填。
func (c *Client) Load() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Cache{}
	b, err := os.ReadFile(c.CachePath)
	if err != nil {
		return
	}
	var cc Cache
	if err := json.Unmarshal(b, &cc); err != nil {
		logx.Warnf("授权缓存损坏，已忽略: %v", err)
		return
	}
	if cc.TokenExp == 0 {
		cc.TokenExp = cc.Exp
	}
	cc.TokenExp, cc.LicExp = seconds(cc.TokenExp), seconds(cc.LicExp)
	c.state = cc
}

// Status 计算当前状态：有 lic_exp 时以其为准，否则看 token_exp。
func (c *Client) Status() Status {
	c.mu.Lock()
	s := c.state
	c.mu.Unlock()
	now := c.now().Unix()
	var expired bool
	if s.LicExp > 0 {
		expired = now >= s.LicExp
	} else {
		expired = s.TokenExp > 0 && now >= s.TokenExp
	}
	exp := s.LicExp
	if exp == 0 {
		exp = s.TokenExp
	}
	return Status{
		Valid:    s.Token != "" && !expired,
		Expired:  expired,
		Key:      s.Key,
		TokenExp: s.TokenExp,
		LicExp:   s.LicExp,
		Exp:      exp,
	}
}

type activateReq struct {
	Key      string `json:"key"`
	HWID     string `json:"hwid"`
	Product  string `json:"product"`
	TTLHours int    `json:"ttl_hours"`
}

type verifyReq struct {
	Token string `json:"token"`
	HWID  string `json:"hwid"`
}

// Activate 用 key 激活并写入缓存。
func (c *Client) Activate(ctx context.Context, key string) (Status, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Status{}, errors.New("license: empty key")
	}
	j, err := c.post(ctx, "/v1/licenses/activate", activateReq{Key: key, HWID: c.hwid(), Product: Product, TTLHours: 1})
	if err != nil {
		return Status{}, fmt.Errorf("activate: %w", err)
	}
	token := dom.Str(j.Get("token"))
	if token == "" {
		return Status{}, fmt.Errorf("activate: %w", &RejectedError{Message: "missing token"})
	}
	tokenExp := dom.Epoch(j.Get("exp"))
	licExp := pickLicExp(j)
	if licExp > 0 {
		tokenExp = licExp + 3600
	} else if vj, err := c.post(ctx, "/v1/licenses/verify", verifyReq{Token: token, HWID: c.hwid()}); err == nil {
		licExp = pickLicExp(vj)
	} else {
		logx.Debugf("激活后校验失败: %v", err)
	}
	cc := Cache{Key: key, Token: token, TokenExp: tokenExp, LicExp: licExp, Exp: tokenExp}
	if err := c.save(cc); err != nil {
		return Status{}, err
	}
	return c.Status(), nil
}

// Verify 用缓存的令牌向服务端校验，同步服务端返回的 lic_exp。
// 服务端拒绝时令牌被清除；网络错误不改变本地状态。
func (c *Client) Verify(ctx context.Context) (Status, error) {
	c.mu.Lock()
	cc := c.state
	c.mu.Unlock()
	if cc.Token == "" {
		return c.Status(), ErrNoToken
	}
	j, err := c.post(ctx, "/v1/licenses/verify", verifyReq{Token: cc.Token, HWID: c.hwid()})
	var rej *RejectedError
	if errors.As(err, &rej) {
		cc.Token = ""
		if serr := c.save(cc); serr != nil {
			return Status{}, serr
		}
		return c.Status(), fmt.Errorf("verify: %w", err)
	}
	if err != nil {
		return c.Status(), fmt.Errorf("verify: %w", err)
	}
	if le := pickLicExp(j); le > 0 && le != cc.LicExp {
		cc.LicExp = le
		if err := c.save(cc); err != nil {
			return Status{}, err
		}
	}
	return c.Status(), nil
}

// Clear 删除缓存并重置状态。
func (c *Client) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Cache{}
	if err := os.Remove(c.CachePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove license cache: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in any) (gson.JSON, error) {
	var j gson.JSON
	if err := c.HTTP.PostJSON(ctx, c.Server+path, in, &j); err != nil {
		return j, err
	}
	if st := dom.Str(j.Get("status")); st != "ok" {
		msg := dom.Str(j.Get("message"))
		if msg == "" {
			msg = st
		}
		return j, &RejectedError{Message: msg}
	}
	return j, nil
}

// save 原子写入缓存并更新内存状态。
func (c *Client) save(cc Cache) error {
	b, err := json.MarshalIndent(cc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal license cache: %w", err)
	}
	tmp := c.CachePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write license cache: %w", err)
	}
	if err := os.Rename(tmp, c.CachePath); err != nil {
		return fmt.Errorf("replace license cache: %w", err)
	}
	c.mu.Lock()
	c.state = cc
	c.mu.Unlock()
	return nil
}

func pickLicExp(j gson.JSON) int64 {
	for _, k := range licExpKeys {
		if v := dom.Epoch(j.Get(k)); v > 0 {
			return v
		}
	}
	return 0
}

// seconds 将毫秒时间戳归一为秒。
func seconds(ts int64) int64 {
	if ts > 1e12 {
		return ts / 1000
	}
	return ts
}
