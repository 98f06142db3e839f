package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const screenshotTimeout = 10 * time.Second

// screenshot saves screenshot_<name>_<unixms>.png. Failures are logged and
// never abort the run; a cancelled run still gets its error screenshot.
func (c *Controller) screenshot(ctx context.Context, name string) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	if c.page.IsClosed() {
		c.logger.Warn("Page is closed, skipping screenshot", zap.String("name", name))
		return ""
	}
	dir := c.opts.ScreenshotDir
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			c.logger.Warn("Failed to create screenshot directory", zap.String("dir", dir), zap.Error(err))
			return ""
		}
	}
	path := filepath.Join(dir, fmt.Sprintf("screenshot_%s_%d.png", name, time.Now().UnixMilli()))
	if err := c.page.Screenshot(ctx, path); err != nil {
		c.logger.Warn("Failed to capture screenshot", zap.String("name", name), zap.Error(err))
		return ""
	}
	c.logger.Info("Screenshot saved", zap.String("path", path))

	c.mu.Lock()
	c.screenshots = append(c.screenshots, path)
	c.mu.Unlock()
	return path
}
