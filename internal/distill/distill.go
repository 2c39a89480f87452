package distill

import (
	"fmt"
	"strings"

	"github.com/23skdu/longbow-distill/internal/opt"
	"github.com/23skdu/longbow-distill/internal/task"
	"github.com/23skdu/longbow-distill/internal/zoo"
)

// Mode selects the distillation strategy for the student model.
type Mode int

const (
	// ModeWide copies teacher layer weights into the student and matches
	// hidden states, encoder outputs, and predictions (DistilBART-style).
	ModeWide Mode = iota
	// ModeNarrow shrinks the student's embedding and feed-forward sizes
	// and matches teacher internals purely through auxiliary loss terms
	// (TinyBERT-style).
	ModeNarrow
)

// Narrow-mode student sizes, fixed regardless of the family's defaults.
const (
	NarrowEmbeddingSize = 64
	NarrowFFNSize       = 256
)

// modelPrefix namespaces the student agent identifiers.
const modelPrefix = "distillation"

func (m Mode) String() string {
	switch m {
	case ModeWide:
		return "wide"
	case ModeNarrow:
		return "narrow"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a distillation mode name.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "wide":
		return ModeWide, nil
	case "narrow":
		return ModeNarrow, nil
	default:
		return 0, fmt.Errorf("unknown distillation mode: %s", s)
	}
}

// Agent returns the student-model identifier for this mode and family.
func (m Mode) Agent(f *zoo.Family) string {
	switch m {
	case ModeNarrow:
		return f.NarrowAgent
	default:
		return f.WideAgent
	}
}

// baseOpt drives a one-example, loss-only evaluation of a one-layer
// student against the fixed-message task.
func baseOpt() opt.Opt {
	return opt.Opt{
		"allow_missing_init_opts": true,
		"init_model":              "",
		"model_file":              "",
		"n_encoder_layers":        1,
		"n_decoder_layers":        1,
		"task":                    task.FixedMessageTask,
		"num_examples":            1,
		"skip_generation":         true,
		"hidden_loss_coeff":       1,
		"encoder_loss_coeff":      1,
		"pred_loss_coeff":         1,
		"task_loss_coeff":         1,
	}
}

// familyOpt points the student at the provisioned teacher checkpoint and
// its dictionary and prior-configuration siblings.
func familyOpt(f *zoo.Family, dataRoot string) opt.Opt {
	return opt.Opt{
		"dict_file":     f.DictFile(dataRoot),
		"init_opt":      f.InitOptFile(dataRoot),
		"teacher_model": f.ModelFile(dataRoot),
	}
}

func modeOpt(m Mode) opt.Opt {
	switch m {
	case ModeWide:
		return opt.Opt{
			"copy_teacher_weights": true,
		}
	case ModeNarrow:
		return opt.Opt{
			"embedding_size":          NarrowEmbeddingSize,
			"ffn_size":                NarrowFFNSize,
			"embedding_loss_coeff":    1,
			"self_attn_loss_coeff":    1,
			"enc_dec_attn_loss_coeff": 1,
		}
	default:
		return opt.Opt{}
	}
}

// RequiredKeys are the options the external evaluator cannot run
// without. A merged opt missing any of them is a harness defect.
var RequiredKeys = []string{
	"model",
	"task",
	"teacher_model",
	"hidden_loss_coeff",
	"encoder_loss_coeff",
	"pred_loss_coeff",
	"task_loss_coeff",
}

// BuildOpt merges the evaluation configuration for one scenario. Layers
// merge in precedence order: base, family, mode, then per-scenario
// overrides; later layers win on conflict. The result is validated
// against RequiredKeys before being returned.
func BuildOpt(f *zoo.Family, m Mode, dataRoot string, overrides opt.Opt) (opt.Opt, error) {
	merged := opt.Merge(
		baseOpt(),
		familyOpt(f, dataRoot),
		modeOpt(m),
		opt.Opt{"model": modelPrefix + ":" + m.Agent(f)},
		overrides,
	)
	if err := merged.Require(RequiredKeys...); err != nil {
		return nil, fmt.Errorf("build opt for %s/%s: %w", f.Name, m, err)
	}
	return merged, nil
}
