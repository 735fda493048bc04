package controllers

import (
	"fmt"
	"io"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/visionboardai/visionboard/internal/pkg/ratelimit"
	"github.com/visionboardai/visionboard/internal/pkg/upload"
	"github.com/visionboardai/visionboard/internal/pkg/usercontext"
)

// readUploadedImage pulls the multipart file, enforces the size cap and the
// extension/MIME whitelist, and returns the raw bytes.
func readUploadedImage(c *fiber.Ctx, field string) ([]byte, *multipart.FileHeader, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return nil, nil, jsonError(c, fiber.StatusBadRequest, "bad_request",
			fmt.Sprintf("multipart field %q is required", field))
	}
	if header.Size > upload.MaxPhotoSize {
		return nil, nil, jsonError(c, fiber.StatusRequestEntityTooLarge, "file_too_large",
			"uploaded file exceeds the size limit")
	}

	file, err := header.Open()
	if err != nil {
		return nil, nil, internalError(c, "failed to read uploaded file")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, upload.MaxPhotoSize+1))
	if err != nil {
		return nil, nil, internalError(c, "failed to read uploaded file")
	}
	if int64(len(data)) > upload.MaxPhotoSize {
		return nil, nil, jsonError(c, fiber.StatusRequestEntityTooLarge, "file_too_large",
			"uploaded file exceeds the size limit")
	}

	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if _, err := upload.ValidateImageBySniff(header.Filename, head); err != nil {
		return nil, nil, jsonError(c, fiber.StatusUnprocessableEntity, "invalid_file", err.Error())
	}
	return data, header, nil
}

// HandleUploadPhoto stores the user photo that seeds image generation. The
// photo is orientation-fixed and downscaled before it hits object storage.
func (a *API) HandleUploadPhoto(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	if ok, err := a.checkRateLimit(c, ident, ratelimit.ClassUpload); !ok {
		return err
	}

	data, _, err := readUploadedImage(c, "photo")
	if err != nil {
		return err
	}

	normalized, ext, normErr := upload.NormalizePhoto(data)
	if normErr != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "invalid_file", "uploaded file is not a decodable image")
	}

	key := fmt.Sprintf("photos/%d/%s%s", ident.ProfileID, uuid.New().String(), ext)
	url, err := a.Storage.UploadBytes(c.UserContext(), key, "", normalized)
	if err != nil {
		log.Errorf("photo upload to storage failed for profile %d: %v", ident.ProfileID, err)
		return internalError(c, "failed to store photo")
	}

	profile, err := a.Repos.Profile.GetByID(ident.ProfileID)
	if err != nil {
		return internalError(c, "failed to load profile")
	}
	profile.PhotoURL = url
	if err := a.Repos.Profile.Update(profile); err != nil {
		return internalError(c, "failed to update profile")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"photo_url": url})
}

// HandleRemoveBackground runs the uploaded photo through the background
// removal vendor and stores the transparent cutout used by generation.
func (a *API) HandleRemoveBackground(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	if ok, err := a.checkRateLimit(c, ident, ratelimit.ClassUpload); !ok {
		return err
	}

	data, header, err := readUploadedImage(c, "photo")
	if err != nil {
		return err
	}

	cutout, err := a.Remover.RemoveBackground(c.UserContext(), header.Filename, data)
	if err != nil {
		log.Errorf("background removal failed for profile %d: %v", ident.ProfileID, err)
		return jsonError(c, fiber.StatusBadGateway, "removal_failed", "background removal failed")
	}

	key := fmt.Sprintf("cutouts/%d/%s.png", ident.ProfileID, uuid.New().String())
	url, err := a.Storage.UploadBytes(c.UserContext(), key, "image/png", cutout)
	if err != nil {
		log.Errorf("cutout upload to storage failed for profile %d: %v", ident.ProfileID, err)
		return internalError(c, "failed to store cutout")
	}

	profile, err := a.Repos.Profile.GetByID(ident.ProfileID)
	if err != nil {
		return internalError(c, "failed to load profile")
	}
	profile.CutoutURL = url
	if err := a.Repos.Profile.Update(profile); err != nil {
		return internalError(c, "failed to update profile")
	}

	return c.JSON(fiber.Map{"cutout_url": url})
}

// HandleUpdateAvatar stores a profile avatar image.
func (a *API) HandleUpdateAvatar(c *fiber.Ctx) error {
	ident := usercontext.GetIdentity(c)

	if ok, err := a.checkRateLimit(c, ident, ratelimit.ClassUpload); !ok {
		return err
	}

	data, _, err := readUploadedImage(c, "avatar")
	if err != nil {
		return err
	}

	normalized, ext, normErr := upload.NormalizePhoto(data)
	if normErr != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "invalid_file", "uploaded file is not a decodable image")
	}

	key := fmt.Sprintf("avatars/%d/%s%s", ident.ProfileID, uuid.New().String(), ext)
	url, err := a.Storage.UploadBytes(c.UserContext(), key, "", normalized)
	if err != nil {
		log.Errorf("avatar upload to storage failed for profile %d: %v", ident.ProfileID, err)
		return internalError(c, "failed to store avatar")
	}

	profile, err := a.Repos.Profile.GetByID(ident.ProfileID)
	if err != nil {
		return internalError(c, "failed to load profile")
	}
	profile.AvatarURL = url
	if err := a.Repos.Profile.Update(profile); err != nil {
		return internalError(c, "failed to update profile")
	}

	return c.JSON(fiber.Map{"avatar_url": url})
}
