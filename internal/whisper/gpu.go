package whisper

import (
	"context"
	"strings"
	"time"
	"voxagent/internal/command"
)

// DetectVulkanGPU asks vulkaninfo for a physical device that is not a CPU
// implementation such as llvmpipe.
func DetectVulkanGPU(ctx context.Context, runner command.Runner) bool {
	res, err := runner.Run(ctx, 10*time.Second, "vulkaninfo")
	if err != nil || res.Stdout == "" {
		return false
	}
	return hasVulkanGPU(res.Stdout)
}

func hasVulkanGPU(out string) bool {
	if !strings.Contains(out, "VULKANINFO") {
		return false
	}
	return strings.Contains(out, "PHYSICAL_DEVICE_TYPE_DISCRETE_GPU") ||
		strings.Contains(out, "PHYSICAL_DEVICE_TYPE_INTEGRATED_GPU")
}
