package web

import (
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/finderp/boltzmann-machines/nnet"
)

type ConfigPage struct {
	*Templates
	Fields []Field
	Error  string
	mon    *Monitor
	sync.Mutex
}

type Field struct {
	Name    string
	Value   string
	Error   string
	Boolean bool
	On      bool
}

// Base data for handler functions to view and update the DBM config
func NewConfigPage(t *Templates, mon *Monitor) *ConfigPage {
	p := &ConfigPage{mon: mon}
	p.Templates = t.Select("/config")
	p.AddOption(Link{Name: "save", Url: "/config/save", Submit: true})
	p.Fields = getFields(mon.DBM.DBMConfig)
	return p
}

// Handler function for the config template
func (p *ConfigPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Lock()
		defer p.Unlock()
		p.mon.Lock()
		p.Heading = p.mon.heading()
		p.mon.Unlock()
		p.Toplevel = true
		p.Exec(w, "config", p)
	}
}

// Handler function for the config form save action. Changes are only allowed between runs.
func (p *ConfigPage) Save() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Lock()
		defer p.Unlock()
		p.mon.Lock()
		defer p.mon.Unlock()
		p.Error = ""
		if p.mon.running {
			p.Error = "cannot change config while training is running"
			http.Redirect(w, r, "/config", http.StatusFound)
			return
		}
		if err := r.ParseForm(); err != nil {
			logError(w, err)
			return
		}
		haveErrors := false
		conf := p.mon.DBM.DBMConfig
		for i, fld := range p.Fields {
			val := r.Form.Get(fld.Name)
			if fld.Boolean {
				p.Fields[i].On = (val == "true")
				val = fmt.Sprint(p.Fields[i].On)
			}
			p.Fields[i].Value = val
			var err error
			conf, err = conf.SetString(fld.Name, val)
			p.Fields[i].Error = ""
			if err != nil {
				p.Fields[i].Error = "invalid syntax"
				haveErrors = true
			}
		}
		if err := conf.Validate(); err != nil && !haveErrors {
			p.Error = err.Error()
			haveErrors = true
		}
		if !haveErrors {
			if err := conf.Save(p.mon.Model + ".conf"); err != nil {
				logError(w, err)
				return
			}
			log.Println("updated config for", p.mon.Model)
			p.mon.DBM.DBMConfig = conf
		}
		http.Redirect(w, r, "/config", http.StatusFound)
	}
}

// editable fields, the layer sizes are fixed by the model
func getFields(conf nnet.DBMConfig) []Field {
	var flds []Field
	for _, key := range nnet.Fields(conf) {
		if key == "Name" || key == "NParticles" || key == "ModelPath" {
			continue
		}
		val := nnet.Get(conf, key)
		f := Field{Name: key, Value: fieldString(val)}
		f.On, f.Boolean = val.(bool)
		flds = append(flds, f)
	}
	return flds
}

// format so that SetString can parse the value back
func fieldString(val interface{}) string {
	switch v := val.(type) {
	case [2]bool:
		return fmt.Sprintf("%v,%v", v[0], v[1])
	case [2]float64:
		return fmt.Sprintf("%g,%g", v[0], v[1])
	case nnet.Param:
		if v.Kind == nnet.Constant {
			return fmt.Sprint(v.Value)
		}
		s := ""
		for i, x := range v.Values {
			if i > 0 {
				s += ","
			}
			s += fmt.Sprint(x)
		}
		return s
	default:
		return fmt.Sprint(v)
	}
}
