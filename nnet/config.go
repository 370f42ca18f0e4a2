package nnet

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"reflect"
	"strconv"
	"strings"
)

// DataDir is the directory used for config, data and checkpoint files.
var DataDir = dataDir()

func dataDir() string {
	if dir := os.Getenv("BOLTZMANN_DATA"); dir != "" {
		return dir
	}
	return "data"
}

// RBMConfig holds the settings for a Bernoulli restricted Boltzmann machine.
type RBMConfig struct {
	Name              string
	NVisible          int
	NHidden           int
	WInit             float64
	VbInit            float64
	HbInit            float64
	NGibbsSteps       Param
	LearningRate      Param
	Momentum          Param
	MaxEpoch          int
	BatchSize         int
	L2                float64
	MaxNorm           float64
	SampleVStates     bool
	SampleHStates     bool
	Persistent        bool
	SparsityTarget    float64
	SparsityCost      float64
	SparsityDamping   float64
	DBMFirst          bool
	DBMLast           bool
	TrainMetricsEvery int
	LogEvery          int
	RandSeed          int64
	DebugLevel        int
	ModelPath         string
}

// DefaultRBMConfig returns the default settings for an RBM with the given layer sizes.
func DefaultRBMConfig(nVisible, nHidden int) RBMConfig {
	return RBMConfig{
		Name:              "rbm",
		NVisible:          nVisible,
		NHidden:           nHidden,
		WInit:             0.01,
		NGibbsSteps:       Const(1),
		LearningRate:      Const(0.01),
		Momentum:          Const(0.9),
		MaxEpoch:          10,
		BatchSize:         10,
		L2:                1e-4,
		SampleVStates:     false,
		SampleHStates:     true,
		SparsityTarget:    0.1,
		SparsityDamping:   0.9,
		TrainMetricsEvery: 10,
		LogEvery:          1,
	}
}

// Validate checks the config settings.
func (c RBMConfig) Validate() error {
	switch {
	case c.NVisible < 1 || c.NHidden < 1:
		return fmt.Errorf("%w: layer sizes %d %d", ErrConfig, c.NVisible, c.NHidden)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: BatchSize %d", ErrConfig, c.BatchSize)
	case c.MaxEpoch < 0:
		return fmt.Errorf("%w: MaxEpoch %d", ErrConfig, c.MaxEpoch)
	case c.WInit < 0:
		return fmt.Errorf("%w: WInit %g", ErrConfig, c.WInit)
	case !c.NGibbsSteps.valid(1, 1e6):
		return fmt.Errorf("%w: NGibbsSteps %s", ErrConfig, c.NGibbsSteps)
	case !c.LearningRate.valid(0, 1e3):
		return fmt.Errorf("%w: LearningRate %s", ErrConfig, c.LearningRate)
	case !c.Momentum.valid(0, 1):
		return fmt.Errorf("%w: Momentum %s", ErrConfig, c.Momentum)
	case c.L2 < 0 || c.MaxNorm < 0:
		return fmt.Errorf("%w: L2 %g MaxNorm %g", ErrConfig, c.L2, c.MaxNorm)
	case c.SparsityTarget < 0 || c.SparsityTarget > 1 || c.SparsityCost < 0:
		return fmt.Errorf("%w: sparsity target %g cost %g", ErrConfig, c.SparsityTarget, c.SparsityCost)
	case c.SparsityDamping < 0 || c.SparsityDamping > 1:
		return fmt.Errorf("%w: SparsityDamping %g", ErrConfig, c.SparsityDamping)
	case c.DBMFirst && c.DBMLast:
		return fmt.Errorf("%w: DBMFirst and DBMLast are exclusive", ErrConfig)
	}
	return nil
}

func (c RBMConfig) String() string { return configString("RBM", c) }

// SetString updates the named field from its string representation.
func (c RBMConfig) SetString(key, val string) (RBMConfig, error) {
	err := setString(&c, key, val)
	return c, err
}

// Save config to JSON file under DataDir
func (c RBMConfig) Save(name string) error { return saveJSON(name, c) }

// DBMConfig holds the settings for joint training of a two layer deep Boltzmann machine.
type DBMConfig struct {
	Name              string
	NParticles        int
	NGibbsSteps       int
	MaxMFUpdates      int
	MFTol             float64
	LearningRate      Param
	Momentum          Param
	MaxEpoch          int
	BatchSize         int
	L2                float64
	MaxNorm           float64
	SampleVStates     bool
	SampleHStates     [2]bool
	SparsityTargets   [2]float64
	SparsityCosts     [2]float64
	SparsityDamping   float64
	AISChains         int
	TrainMetricsEvery int
	ValMetricsEvery   int
	LogEvery          int
	RandSeed          int64
	DebugLevel        int
	ModelPath         string
}

// DefaultDBMConfig returns the default DBM settings.
func DefaultDBMConfig() DBMConfig {
	return DBMConfig{
		Name:              "dbm",
		NParticles:        100,
		NGibbsSteps:       5,
		MaxMFUpdates:      10,
		MFTol:             1e-7,
		LearningRate:      Const(0.0005),
		Momentum:          Const(0.9),
		MaxEpoch:          10,
		BatchSize:         100,
		L2:                1e-5,
		SampleVStates:     false,
		SampleHStates:     [2]bool{true, true},
		SparsityTargets:   [2]float64{0.1, 0.1},
		SparsityDamping:   0.9,
		AISChains:         100,
		TrainMetricsEvery: 10,
		ValMetricsEvery:   1,
		LogEvery:          1,
	}
}

// Validate checks the config settings.
func (c DBMConfig) Validate() error {
	switch {
	case c.NParticles < 1:
		return fmt.Errorf("%w: NParticles %d", ErrConfig, c.NParticles)
	case c.NGibbsSteps < 1:
		return fmt.Errorf("%w: NGibbsSteps %d", ErrConfig, c.NGibbsSteps)
	case c.MaxMFUpdates < 1 || c.MFTol < 0:
		return fmt.Errorf("%w: MaxMFUpdates %d MFTol %g", ErrConfig, c.MaxMFUpdates, c.MFTol)
	case c.BatchSize < 1:
		return fmt.Errorf("%w: BatchSize %d", ErrConfig, c.BatchSize)
	case c.MaxEpoch < 0:
		return fmt.Errorf("%w: MaxEpoch %d", ErrConfig, c.MaxEpoch)
	case !c.LearningRate.valid(0, 1e3):
		return fmt.Errorf("%w: LearningRate %s", ErrConfig, c.LearningRate)
	case !c.Momentum.valid(0, 1):
		return fmt.Errorf("%w: Momentum %s", ErrConfig, c.Momentum)
	case c.L2 < 0 || c.MaxNorm < 0:
		return fmt.Errorf("%w: L2 %g MaxNorm %g", ErrConfig, c.L2, c.MaxNorm)
	case c.SparsityDamping < 0 || c.SparsityDamping > 1:
		return fmt.Errorf("%w: SparsityDamping %g", ErrConfig, c.SparsityDamping)
	case c.AISChains < 1:
		return fmt.Errorf("%w: AISChains %d", ErrConfig, c.AISChains)
	}
	for i := range c.SparsityTargets {
		if c.SparsityTargets[i] < 0 || c.SparsityTargets[i] > 1 || c.SparsityCosts[i] < 0 {
			return fmt.Errorf("%w: sparsity target %g cost %g for layer %d", ErrConfig, c.SparsityTargets[i], c.SparsityCosts[i], i+1)
		}
	}
	return nil
}

func (c DBMConfig) String() string { return configString("DBM", c) }

// SetString updates the named field from its string representation.
func (c DBMConfig) SetString(key, val string) (DBMConfig, error) {
	err := setString(&c, key, val)
	return c, err
}

// Save config to JSON file under DataDir
func (c DBMConfig) Save(name string) error { return saveJSON(name, c) }

// LoadConfig loads a JSON config file under DataDir into conf, which should be a
// pointer to an RBMConfig or DBMConfig initialised with the default values.
func LoadConfig(name string, conf interface{}) error {
	f, err := os.Open(path.Join(DataDir, name))
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Println("loading config from", name)
	if err = json.NewDecoder(f).Decode(conf); err != nil {
		return fmt.Errorf("error decoding %s: %w", name, err)
	}
	return nil
}

// write to a temp file then rename so a partially written file is never seen
func saveJSON(name string, v interface{}) error {
	filePath := path.Join(DataDir, "."+name)
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	fmt.Println("saving config to", name)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(filePath, path.Join(DataDir, name))
}

// Fields returns the list of config field names.
func Fields(conf interface{}) []string {
	st := reflect.TypeOf(conf)
	fld := make([]string, st.NumField())
	for i := range fld {
		fld[i] = st.Field(i).Name
	}
	return fld
}

// Get returns the value of the named config field.
func Get(conf interface{}, key string) interface{} {
	return reflect.ValueOf(conf).FieldByName(key).Interface()
}

func configString(title string, conf interface{}) string {
	str := []string{"== " + title + " Config =="}
	for _, key := range Fields(conf) {
		str = append(str, fmt.Sprintf("%-18s: %v", key, Get(conf, key)))
	}
	return strings.Join(str, "\n")
}

var paramType = reflect.TypeOf(Param{})

func setString(conf interface{}, key, val string) error {
	f := reflect.ValueOf(conf).Elem().FieldByName(key)
	if !f.IsValid() {
		return fmt.Errorf("%w: unknown field %s", ErrConfig, key)
	}
	if f.Type() == paramType {
		p, err := ParseParam(val)
		if err == nil {
			f.Set(reflect.ValueOf(p))
		}
		return err
	}
	if f.Kind() == reflect.Array {
		vals := strings.Split(val, ",")
		if len(vals) == 1 {
			vals = slicesRepeat(vals[0], f.Len())
		}
		if len(vals) != f.Len() {
			return fmt.Errorf("%w: %s needs %d values", ErrConfig, key, f.Len())
		}
		for i, v := range vals {
			if err := setValue(f.Index(i), strings.TrimSpace(v)); err != nil {
				return err
			}
		}
		return nil
	}
	return setValue(f, val)
}

func setValue(f reflect.Value, val string) error {
	var err error
	switch f.Kind() {
	case reflect.Int, reflect.Int64:
		var x int64
		if x, err = strconv.ParseInt(val, 10, 64); err == nil {
			f.SetInt(x)
		}
	case reflect.Float64:
		var x float64
		if x, err = strconv.ParseFloat(val, 64); err == nil {
			f.SetFloat(x)
		}
	case reflect.Bool:
		var x bool
		if x, err = strconv.ParseBool(val); err == nil {
			f.SetBool(x)
		}
	case reflect.String:
		f.SetString(val)
	default:
		return fmt.Errorf("invalid type for SetString: %v", f.Type().Kind())
	}
	return err
}

func slicesRepeat(s string, n int) []string {
	res := make([]string, n)
	for i := range res {
		res[i] = s
	}
	return res
}
