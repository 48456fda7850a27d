package assemble

// suffixRule selects which scheduler names add a suffix to the display name.
type suffixRule int

const (
	noSuffix suffixRule = iota
	karrasOnly
	karrasOrExponential
)

type civitaiName struct {
	display string
	rule    suffixRule
}

// civitaiSamplers follows the sampler names civitai.com displays.
// See civitai/civitai src/server/common/constants.ts.
var civitaiSamplers = map[string]civitaiName{
	"euler":                  {"Euler", noSuffix},
	"euler_cfg_pp":           {"Euler", noSuffix},
	"euler_ancestral":        {"Euler a", noSuffix},
	"euler_ancestral_cfg_pp": {"Euler a", noSuffix},
	"heun":                   {"Huen", noSuffix},
	"heunpp2":                {"Huen", noSuffix},
	"dpm_fast":               {"DPM fast", noSuffix},
	"dpm_adaptive":           {"DPM adaptive", noSuffix},
	"lcm":                    {"LCM", noSuffix},
	"ddim":                   {"DDIM", noSuffix},
	"uni_pc":                 {"UniPC", noSuffix},
	"uni_pc_bh2":             {"UniPC", noSuffix},

	"dpm_2":              {"DPM2", karrasOnly},
	"dpm_2_ancestral":    {"DPM2 a", karrasOnly},
	"lms":                {"LMS", karrasOnly},
	"dpmpp_2s_ancestral": {"DPM++ 2S a", karrasOnly},
	"dpmpp_sde":          {"DPM++ SDE", karrasOnly},
	"dpmpp_sde_gpu":      {"DPM++ SDE", karrasOnly},
	"dpmpp_2m":           {"DPM++ 2M", karrasOnly},
	"dpmpp_2m_sde":       {"DPM++ 2M SDE", karrasOnly},
	"dpmpp_2m_sde_gpu":   {"DPM++ 2M SDE", karrasOnly},

	"dpmpp_3m_sde":     {"DPM++ 3M SDE", karrasOrExponential},
	"dpmpp_3m_sde_gpu": {"DPM++ 3M SDE", karrasOrExponential},
}

// CivitaiSampler returns the civitai display name for a sampler/scheduler
// pair. An empty scheduler means none was resolved. Unknown samplers fall
// back to "sampler" or "sampler_scheduler"; an empty sampler yields "".
func CivitaiSampler(sampler, scheduler string) string {
	if sampler == "" {
		return ""
	}
	if n, ok := civitaiSamplers[sampler]; ok {
		switch {
		case n.rule != noSuffix && scheduler == "karras":
			return n.display + " Karras"
		case n.rule == karrasOrExponential && scheduler == "exponential":
			return n.display + " Exponential"
		}
		return n.display
	}
	return withScheduler(sampler, scheduler)
}

// withScheduler is the plain "sampler_scheduler" form. The default
// "normal" scheduler is left off.
func withScheduler(sampler, scheduler string) string {
	if scheduler == "" || scheduler == "normal" {
		return sampler
	}
	return sampler + "_" + scheduler
}
