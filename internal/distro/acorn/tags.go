// Package acorn defines the AcornOS image: the rootfs, initramfs and
// ISO-root registries, the handlers behind their custom operations and
// the checks a staged rootfs must pass.
package acorn

import "github.com/acornos/acornbuild/internal/domain/component"

// Custom operation tags. The set is closed; Dispatcher.Dispatch switches
// over every member.
const (
	// Rootfs.
	CreateFhsSymlinks    component.CustomTag = "CreateFhsSymlinks"
	CreateBusyboxApplets component.CustomTag = "CreateBusyboxApplets"
	SetupDeviceManager   component.CustomTag = "SetupDeviceManager"
	SetupSsh             component.CustomTag = "SetupSsh"
	CreateEtcFiles       component.CustomTag = "CreateEtcFiles"
	CopyTimezoneData     component.CustomTag = "CopyTimezoneData"
	CopyKernelModules    component.CustomTag = "CopyKernelModules"
	RunDepmod            component.CustomTag = "RunDepmod"
	CopyWifiFirmware     component.CustomTag = "CopyWifiFirmware"
	CopyAllFirmware      component.CustomTag = "CopyAllFirmware"
	CreateWelcomeMessage component.CustomTag = "CreateWelcomeMessage"
	CreateLiveOverlay    component.CustomTag = "CreateLiveOverlay"
	CopyRecstrap         component.CustomTag = "CopyRecstrap"

	// Initramfs.
	InstallStaticBusybox component.CustomTag = "InstallStaticBusybox"
	CopyBootModules      component.CustomTag = "CopyBootModules"
	RenderInitScript     component.CustomTag = "RenderInitScript"

	// ISO root.
	CreateLiveOverlayTree component.CustomTag = "CreateLiveOverlayTree"
	CopyIsoArtifacts      component.CustomTag = "CopyIsoArtifacts"
	WriteGrubConfig       component.CustomTag = "WriteGrubConfig"
	InstallEfiBootloader  component.CustomTag = "InstallEfiBootloader"
)

// Tags returns every tag the Dispatcher handles.
func Tags() []component.CustomTag {
	return []component.CustomTag{
		CreateFhsSymlinks,
		CreateBusyboxApplets,
		SetupDeviceManager,
		SetupSsh,
		CreateEtcFiles,
		CopyTimezoneData,
		CopyKernelModules,
		RunDepmod,
		CopyWifiFirmware,
		CopyAllFirmware,
		CreateWelcomeMessage,
		CreateLiveOverlay,
		CopyRecstrap,
		InstallStaticBusybox,
		CopyBootModules,
		RenderInitScript,
		CreateLiveOverlayTree,
		CopyIsoArtifacts,
		WriteGrubConfig,
		InstallEfiBootloader,
	}
}
