package browsertest

import (
	"context"
	"errors"
	"sync"

	"douyin-harvester/internal/browser"
)

// ErrLaunch 为 Driver 预设失败时返回的错误。
var ErrLaunch = errors.New("browsertest: launch failed")

// Driver 为假浏览器驱动：前 FailFirst 次启动失败，之后返回 Page。
type Driver struct {
	mu        sync.Mutex
	FailFirst int
	Page      *Page
	launches  int
	closes    int
	dead      bool
	profiles  []string
}

func (d *Driver) Launch(ctx context.Context, opts browser.Options) (browser.Page, func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launches++
	d.profiles = append(d.profiles, opts.UserDataDir)
	if d.launches <= d.FailFirst {
		return nil, nil, ErrLaunch
	}
	d.dead = false
	pg := d.Page
	if pg == nil {
		pg = NewPage()
	}
	return pg, func() error {
		d.mu.Lock()
		d.closes++
		d.mu.Unlock()
		return nil
	}, nil
}

func (d *Driver) Alive(context.Context, browser.Page) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.dead
}

// Kill 让下一次存活探测失败。
func (d *Driver) Kill() {
	d.mu.Lock()
	d.dead = true
	d.mu.Unlock()
}

func (d *Driver) Launches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

func (d *Driver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// Profiles 返回每次启动使用的账号目录。
func (d *Driver) Profiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.profiles...)
}
