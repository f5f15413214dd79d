// Package hwimage is the hardware manager that contributes the two
// deploy steps requiring local image tooling: writing a downloaded
// disk image onto the target block device, and building the ISO9660
// config drive cloud-init reads on first boot. Both ride the same
// get_deploy_steps/execute_deploy_step dispatch path every other step
// uses, via internal/extensions' standard extension — this manager
// just supplies the steps and the device-level work behind them.
//
// Grounded on ironic_python_agent/extensions/deploy.py's
// execute_deploy_step shape (cache_node/check_versions/dispatch to a
// manager, coerce the result, return {deploy_step, deploy_result}) —
// the coercion and version-check live in internal/hwmgr/steps.Execute,
// common to every step, so this manager only does the step body.
package hwimage

import (
	"context"

	"github.com/ironrun/provisiond/internal/configdrive"
	"github.com/ironrun/provisiond/internal/errs"
	"github.com/ironrun/provisiond/internal/hwmgr"
	"github.com/ironrun/provisiond/internal/hwmgr/steps"
	"github.com/ironrun/provisiond/internal/imagewriter"
)

const name = "ImageHardwareManager"
const version = "1"

// Manager always reports SupportMainline: writing images and building
// config drives needs no hardware probe, only the two collaborators it
// wraps, so it applies unconditionally.
type Manager struct {
	writer *imagewriter.Writer
}

// New creates the image hardware manager.
func New() *Manager {
	return &Manager{writer: imagewriter.New()}
}

func (m *Manager) Name() string                    { return name }
func (m *Manager) Version() string                  { return version }
func (m *Manager) SupportLevel() hwmgr.SupportLevel { return hwmgr.SupportMainline }

func (m *Manager) Methods() map[string]hwmgr.Method {
	return map[string]hwmgr.Method{
		"get_deploy_steps":  m.getDeploySteps,
		"write_image":       m.writeImage,
		"build_configdrive": m.buildConfigdrive,
	}
}

func (m *Manager) getDeploySteps(_ map[string]any) (any, error) {
	return []steps.Step{
		{
			Name:      "write_image",
			Priority:  80,
			Interface: "deploy",
			Abortable: false,
			ArgsInfo: map[string]steps.ArgInfo{
				"image_source": {Description: "local path to the downloaded image", Required: true},
				"device":       {Description: "target block device", Required: true},
			},
		},
		{
			Name:      "build_configdrive",
			Priority:  60,
			Interface: "deploy",
			Abortable: false,
			ArgsInfo: map[string]steps.ArgInfo{
				"out_path": {Description: "path to write the config drive ISO", Required: true},
				"files":    {Description: "list of {path, content} pairs to place on the drive", Required: true},
			},
		},
	}, nil
}

func (m *Manager) writeImage(args map[string]any) (any, error) {
	imageSource, _ := args["image_source"].(string)
	device, _ := args["device"].(string)
	if imageSource == "" || device == "" {
		return nil, errs.NewInvalidCommandParamsError("write_image requires \"image_source\" and \"device\"")
	}
	if err := m.writer.WriteToDevice(context.Background(), imageSource, device); err != nil {
		return nil, err
	}
	return map[string]any{"device": device, "image_source": imageSource}, nil
}

func (m *Manager) buildConfigdrive(args map[string]any) (any, error) {
	outPath, _ := args["out_path"].(string)
	if outPath == "" {
		return nil, errs.NewInvalidCommandParamsError("build_configdrive requires \"out_path\"")
	}
	rawFiles, ok := args["files"].([]any)
	if !ok {
		return nil, errs.NewInvalidCommandParamsError("build_configdrive requires \"files\" as a list of {path, content}")
	}

	files := make([]configdrive.File, 0, len(rawFiles))
	for _, rf := range rawFiles {
		entry, ok := rf.(map[string]any)
		if !ok {
			return nil, errs.NewInvalidCommandParamsError("each config drive file entry must be an object")
		}
		path, _ := entry["path"].(string)
		content, _ := entry["content"].(string)
		if path == "" {
			return nil, errs.NewInvalidCommandParamsError("each config drive file entry requires \"path\"")
		}
		files = append(files, configdrive.File{Path: path, Content: []byte(content)})
	}

	if err := configdrive.Build(outPath, files); err != nil {
		return nil, err
	}
	return map[string]any{"out_path": outPath}, nil
}
