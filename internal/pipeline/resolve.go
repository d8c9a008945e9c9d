package pipeline

import (
	"github.com/eld-project/eld/internal/diag"
	"github.com/eld-project/eld/internal/input"
	"github.com/eld-project/eld/internal/module"
	"github.com/eld-project/eld/internal/symbol"
)

// registerSymbols flushes every symbol f.LocalSyms carries into mod.Names,
// applying --wrap redirection at insert time (SPEC_FULL.md section C) and
// the resolution precedence of spec.md section 4.1. Non-local entries in
// f.LocalSyms are overwritten in place with the winning *symbol.ResolveInfo
// so that later phases (GC edge-building, relocation scan) resolving a raw
// obj.SymID through f.LocalSyms see the symbol the link actually resolved
// to, not just the candidate this particular file contributed.
func registerSymbols(f *input.File, mod *module.Module) {
	for i, raw := range f.LocalSyms {
		info, ok := raw.(*symbol.ResolveInfo)
		if !ok {
			continue
		}

		if info.Binding == symbol.BindLocal {
			ld := &symbol.LDSymbol{Info: info, FragRef: info.DefFrag, Value: info.Value}
			mod.Names.InsertLocal(info, ld)
			continue
		}

		info.Name = mod.Names.Redirect(info.Name)
		ld := &symbol.LDSymbol{Info: info, FragRef: info.DefFrag, Value: info.Value}
		result, d := mod.Names.InsertNonLocal(info, ld, false)
		if d != nil {
			emitResolutionDiagnostic(mod, d)
		}
		f.LocalSyms[i] = result.Info
	}
}

// emitResolutionDiagnostic reports d, downgrading a multiple-definition
// error to a warning when --allow-multiple-definition is set (spec.md
// section 4.1 rule 1: "fatal unless --allow-multiple-definition").
func emitResolutionDiagnostic(mod *module.Module, d *diag.Diagnostic) {
	if d.ID == "multiple-definition" && mod.Config.AllowMultipleDefinition {
		downgraded := *d
		downgraded.Severity = diag.Warning
		mod.Diag.Emit(&downgraded)
		return
	}
	mod.Diag.Emit(d)
}
